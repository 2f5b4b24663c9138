// Package changes compares canonical project records and decides whether a
// difference is worth recording as a new version.
package changes

import (
	"slices"
	"sort"
	"strings"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// Field names match the record's JSON keys.
const (
	FieldID               = "id"
	FieldName             = "name"
	FieldShortTitle       = "short_title"
	FieldCategory         = "category"
	FieldUserID           = "user_id"
	FieldCreateTime       = "create_time"
	FieldStartTime        = "start_time"
	FieldEndTime          = "end_time"
	FieldOnlineTime       = "online_time"
	FieldGoalAmount       = "goal_amount"
	FieldRaisedAmount     = "raised_amount"
	FieldBackerCount      = "backer_count"
	FieldCompletionRate   = "completion_rate"
	FieldStatus           = "status"
	FieldCommentCount     = "comment_count"
	FieldFavorCount       = "favor_count"
	FieldSubscribeCount   = "subscribe_count"
	FieldRewardTiersCount = "reward_tiers_count"
	FieldRewardTiers      = "reward_tiers"
	FieldDescription      = "description"
	FieldLogo             = "logo"
	FieldVideo            = "video"
	FieldLocation         = "location"
)

// AllFields lists every comparable record field in declaration order.
var AllFields = []string{
	FieldID, FieldName, FieldShortTitle, FieldCategory, FieldUserID,
	FieldCreateTime, FieldStartTime, FieldEndTime, FieldOnlineTime,
	FieldGoalAmount, FieldRaisedAmount, FieldBackerCount, FieldCompletionRate, FieldStatus,
	FieldCommentCount, FieldFavorCount, FieldSubscribeCount,
	FieldRewardTiersCount, FieldRewardTiers,
	FieldDescription, FieldLogo, FieldVideo, FieldLocation,
}

// DefaultSignificantFields are the fields whose change produces a new version.
var DefaultSignificantFields = []string{
	FieldRaisedAmount,
	FieldBackerCount,
	FieldCompletionRate,
	FieldStatus,
	FieldCommentCount,
	FieldFavorCount,
	FieldSubscribeCount,
	FieldRewardTiersCount,
	FieldRewardTiers,
}

// FieldSet is a set of changed field names.
type FieldSet map[string]struct{}

// Has reports whether name is in the set.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s FieldSet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer.
func (s FieldSet) String() string {
	return strings.Join(s.Names(), ",")
}

// Diff returns the names of fields whose values differ between prev and cur.
// Reward tiers and location compare structurally.
func Diff(prev, cur project.Record) FieldSet {
	out := FieldSet{}
	mark := func(name string, differs bool) {
		if differs {
			out[name] = struct{}{}
		}
	}
	mark(FieldID, prev.ID != cur.ID)
	mark(FieldName, prev.Name != cur.Name)
	mark(FieldShortTitle, prev.ShortTitle != cur.ShortTitle)
	mark(FieldCategory, prev.Category != cur.Category)
	mark(FieldUserID, prev.UserID != cur.UserID)
	mark(FieldCreateTime, prev.CreateTime != cur.CreateTime)
	mark(FieldStartTime, prev.StartTime != cur.StartTime)
	mark(FieldEndTime, prev.EndTime != cur.EndTime)
	mark(FieldOnlineTime, prev.OnlineTime != cur.OnlineTime)
	mark(FieldGoalAmount, prev.GoalAmount != cur.GoalAmount)
	mark(FieldRaisedAmount, prev.RaisedAmount != cur.RaisedAmount)
	mark(FieldBackerCount, prev.BackerCount != cur.BackerCount)
	mark(FieldCompletionRate, prev.CompletionRate != cur.CompletionRate)
	mark(FieldStatus, prev.Status != cur.Status)
	mark(FieldCommentCount, prev.CommentCount != cur.CommentCount)
	mark(FieldFavorCount, prev.FavorCount != cur.FavorCount)
	mark(FieldSubscribeCount, prev.SubscribeCount != cur.SubscribeCount)
	mark(FieldRewardTiersCount, prev.RewardTiersCount != cur.RewardTiersCount)
	mark(FieldRewardTiers, !slices.Equal(prev.RewardTiers, cur.RewardTiers))
	mark(FieldDescription, prev.Description != cur.Description)
	mark(FieldLogo, prev.Logo != cur.Logo)
	mark(FieldVideo, prev.Video != cur.Video)
	mark(FieldLocation, prev.Location != cur.Location)
	return out
}

// Detector decides significance against an allow-list of fields.
type Detector struct {
	significant FieldSet
}

// NewDetector builds a detector for the given fields. An empty list selects
// DefaultSignificantFields. Unknown names are ignored.
func NewDetector(fields []string) *Detector {
	if len(fields) == 0 {
		fields = DefaultSignificantFields
	}
	set := FieldSet{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if slices.Contains(AllFields, f) {
			set[f] = struct{}{}
		}
	}
	return &Detector{significant: set}
}

// SignificantFields returns the allow-list in sorted order.
func (d *Detector) SignificantFields() []string {
	return d.significant.Names()
}

// IsSignificant reports whether any changed field is on the allow-list.
func (d *Detector) IsSignificant(changed FieldSet) bool {
	for name := range changed {
		if d.significant.Has(name) {
			return true
		}
	}
	return false
}

// Significant is shorthand for IsSignificant(Diff(prev, cur)).
func (d *Detector) Significant(prev, cur project.Record) bool {
	return d.IsSignificant(Diff(prev, cur))
}

// ValidField reports whether name is a known record field.
func ValidField(name string) bool {
	return slices.Contains(AllFields, name)
}
