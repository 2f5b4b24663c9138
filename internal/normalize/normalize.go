// Package normalize maps raw upstream project payloads onto the canonical
// project.Record. Normalization is total: malformed input degrades to zero
// values instead of failing.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// MaxDescriptionRunes bounds the cleaned description length.
const MaxDescriptionRunes = 500

// Upstream status literals.
const (
	upstreamCrowdfunding = "众筹中"
	upstreamSuccess      = "成功"
	upstreamFailed       = "失败"
	upstreamPreparing    = "准备中"
)

var (
	nonNumeric    = regexp.MustCompile(`[^0-9.]`)
	leadingNumber = regexp.MustCompile(`^[0-9]*\.?[0-9]*`)
	hundred       = decimal.NewFromInt(100)

	// ChinaStandardTime is assumed for upstream timestamps without an offset.
	ChinaStandardTime = time.FixedZone("UTC+8", 8*60*60)

	stripPolicy = bluemonday.StrictPolicy()
)

// Normalize converts raw into a canonical record, resolving status against now.
func Normalize(raw RawProject, now time.Time) project.Record {
	goal := ParseAmount(string(raw.Goal))
	raised := ParseAmount(string(raw.BackerMoney))
	rate := decimal.Zero
	if goal.IsPositive() {
		rate = raised.Div(goal).Mul(hundred)
	}

	tiers := Tiers(raw.RewardList)
	description := string(raw.Des)
	if description == "" {
		description = string(raw.Content)
	}
	logo := string(raw.Logo2)
	if logo == "" {
		logo = string(raw.Logo)
	}

	return project.Record{
		ID:         int64(raw.ID),
		Name:       string(raw.Name),
		ShortTitle: string(raw.ShortTitle),
		Category:   string(raw.Category),
		UserID:     int64(raw.UserID),

		CreateTime: string(raw.CTime),
		StartTime:  string(raw.StartTime),
		EndTime:    string(raw.EndTime),
		OnlineTime: string(raw.OnlineTime),

		GoalAmount:     goal.InexactFloat64(),
		RaisedAmount:   raised.InexactFloat64(),
		BackerCount:    int64(raw.BackerCount),
		CompletionRate: rate.Round(2).InexactFloat64(),
		Status:         ResolveStatus(string(raw.Status), string(raw.EndTime), rate, now),

		CommentCount:   int64(raw.CommentCount),
		FavorCount:     int64(raw.FavorCount),
		SubscribeCount: int64(raw.SubscribeCount),

		RewardTiersCount: len(tiers),
		RewardTiers:      tiers,

		Description: CleanDescription(description),

		Logo:  logo,
		Video: string(raw.Video),

		Location: project.Location{
			Province: string(raw.Province),
			City:     string(raw.City),
		},
	}
}

// ParseAmount strips everything except digits and dots and parses the longest
// leading decimal prefix. Empty or non-numeric input yields zero.
func ParseAmount(s string) decimal.Decimal {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	num := strings.TrimSuffix(leadingNumber.FindString(cleaned), ".")
	if num == "" {
		return decimal.Zero
	}
	if strings.HasPrefix(num, ".") {
		num = "0" + num
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ResolveStatus decides the canonical status. Explicit terminal or preparing
// upstream values win; a crowdfunding (or missing) value is re-derived from
// the funding window because upstream keeps reporting crowdfunding after the
// window closes.
func ResolveStatus(upstream, endTime string, rate decimal.Decimal, now time.Time) project.Status {
	switch upstream {
	case upstreamSuccess, string(project.StatusSuccess):
		return project.StatusSuccess
	case upstreamFailed, string(project.StatusFailed):
		return project.StatusFailed
	case upstreamPreparing, string(project.StatusPreparing):
		return project.StatusPreparing
	case upstreamCrowdfunding, string(project.StatusCrowdfunding), "":
		end, ok := ParseTime(endTime)
		if ok && end.Before(now) {
			if rate.GreaterThanOrEqual(hundred) {
				return project.StatusSuccess
			}
			return project.StatusFailed
		}
		return project.StatusCrowdfunding
	default:
		return project.StatusCrowdfunding
	}
}

// KnownStatus reports whether upstream is a status literal ResolveStatus
// recognizes. Unknown values still resolve to crowdfunding.
func KnownStatus(upstream string) bool {
	switch upstream {
	case upstreamSuccess, upstreamFailed, upstreamPreparing, upstreamCrowdfunding, "",
		string(project.StatusSuccess), string(project.StatusFailed),
		string(project.StatusPreparing), string(project.StatusCrowdfunding):
		return true
	default:
		return false
	}
}

// UpstreamLayout is the only timestamp form Modian emits and Validate accepts.
const UpstreamLayout = "2006-01-02 15:04:05"

// ParseTime parses an UpstreamLayout timestamp in UTC+8. The boolean is false
// when the value is empty or in any other form, matching what Validate rejects.
func ParseTime(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(UpstreamLayout, strings.TrimSpace(s), ChinaStandardTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CleanDescription strips markup, collapses whitespace and truncates.
func CleanDescription(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(stripPolicy.Sanitize(s))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= MaxDescriptionRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxDescriptionRunes])
}

// Tiers maps upstream rewards to canonical tiers and keeps only shown ones,
// preserving upstream order.
func Tiers(rewards []RawReward) []project.RewardTier {
	tiers := make([]project.RewardTier, 0, len(rewards))
	for _, r := range rewards {
		if int(r.IfShow) != project.TierShown {
			continue
		}
		priceStr := string(r.Money)
		if priceStr == "" {
			priceStr = string(r.AppMoney)
		}
		if priceStr == "" {
			priceStr = "0"
		}
		title := string(r.Title)
		if title == "" {
			title = string(r.Name)
		}
		maxTotal := int64(r.MaxTotal)
		backers := int64(r.BackCount)
		var remaining int64
		if maxTotal > 0 {
			remaining = max(0, maxTotal-backers)
		}
		tiers = append(tiers, project.RewardTier{
			ID:             int64(r.ID),
			Title:          title,
			Price:          ParseAmount(priceStr).InexactFloat64(),
			OriginalPrice:  priceStr,
			Content:        string(r.Content),
			BackerCount:    backers,
			MaxTotal:       maxTotal,
			RemainingCount: remaining,
			IsLimited:      maxTotal > 0,
			Status:         int(r.Status),
			RewardDay:      string(r.RewardDay),
			IfShow:         int(r.IfShow),
		})
	}
	return tiers
}
