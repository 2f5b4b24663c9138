package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// RawProject is the subset of the upstream project payload the normalizer
// reads. Upstream types drift between numbers and strings, so every scalar is
// decoded leniently.
type RawProject struct {
	ID             Int     `json:"id"`
	Name           String  `json:"name"`
	ShortTitle     String  `json:"short_title"`
	Category       String  `json:"category"`
	UserID         Int     `json:"user_id"`
	CTime          String  `json:"ctime"`
	StartTime      String  `json:"start_time"`
	EndTime        String  `json:"end_time"`
	OnlineTime     String  `json:"online_time"`
	Goal           String  `json:"goal"`
	BackerMoney    String  `json:"backer_money"`
	BackerCount    Int     `json:"backer_count"`
	Status         String  `json:"status"`
	CommentCount   Int     `json:"comment_count"`
	FavorCount     Int     `json:"favor_count"`
	SubscribeCount Int     `json:"subscribe_count"`
	RewardList     Rewards `json:"reward_list"`
	Des            String  `json:"des"`
	Content        String  `json:"content"`
	Logo           String  `json:"logo"`
	Logo2          String  `json:"logo2"`
	Video          String  `json:"vedio"`
	Province       String  `json:"province"`
	City           String  `json:"city"`
}

// RawReward is one upstream reward entry.
type RawReward struct {
	ID        Int    `json:"id"`
	Title     String `json:"title"`
	Name      String `json:"name"`
	Money     String `json:"money"`
	AppMoney  String `json:"app_money"`
	Content   String `json:"content"`
	BackCount Int    `json:"back_count"`
	MaxTotal  Int    `json:"max_total"`
	Status    Int    `json:"status"`
	RewardDay String `json:"reward_day"`
	IfShow    Int    `json:"if_show"`
}

// Decode parses one upstream project object. Only a payload that is not a
// JSON object is rejected; individual fields never fail.
func Decode(data []byte) (RawProject, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return RawProject{}, fmt.Errorf("%w: project payload is not an object", project.ErrParseFailed)
	}
	var raw RawProject
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return RawProject{}, fmt.Errorf("%w: decode project payload: %v", project.ErrParseFailed, err)
	}
	return raw, nil
}

// Int decodes numbers, numeric strings, booleans and null into an int64.
// Anything unparseable becomes 0.
type Int int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int) UnmarshalJSON(data []byte) error {
	*i = 0
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		*i = Int(t)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*i = Int(n)
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			*i = Int(f)
		}
	case bool:
		if t {
			*i = 1
		}
	}
	return nil
}

// String decodes strings and scalars into text; objects, arrays and null
// become the empty string.
type String string

// UnmarshalJSON implements json.Unmarshaler.
func (s *String) UnmarshalJSON(data []byte) error {
	*s = ""
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		*s = String(t)
	case float64:
		*s = String(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		*s = String(strconv.FormatBool(t))
	}
	return nil
}

// Rewards decodes the reward list, dropping entries that are not objects.
type Rewards []RawReward

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rewards) UnmarshalJSON(data []byte) error {
	*r = nil
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	out := make([]RawReward, 0, len(items))
	for _, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		var reward RawReward
		if err := json.Unmarshal(trimmed, &reward); err != nil {
			continue
		}
		out = append(out, reward)
	}
	*r = out
	return nil
}
