// Package project defines the canonical crowdfunding project schema shared by
// the normalizer, the change detector, the versioned store, and the crawler.
package project

import (
	"encoding/json"
	"time"
)

// Status is the resolved funding state of a project.
type Status string

// Resolved project statuses.
const (
	StatusCrowdfunding Status = "Crowdfunding"
	StatusSuccess      Status = "Success"
	StatusFailed       Status = "Failed"
	StatusPreparing    Status = "Preparing"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCrowdfunding, StatusSuccess, StatusFailed, StatusPreparing:
		return true
	default:
		return false
	}
}

// TierShown is the visibility flag value of a reward tier that is displayed.
const TierShown = 1

// RewardTier is one funding-reward option of a project.
type RewardTier struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Price          float64 `json:"price"`
	OriginalPrice  string  `json:"original_price_str"`
	Content        string  `json:"content"`
	BackerCount    int64   `json:"backer_count"`
	MaxTotal       int64   `json:"max_total"`
	RemainingCount int64   `json:"remaining_count"`
	IsLimited      bool    `json:"is_limited"`
	Status         int     `json:"status"`
	RewardDay      string  `json:"reward_day"`
	IfShow         int     `json:"if_show"`
}

// Location is the province/city pair reported by the owner.
type Location struct {
	Province string `json:"province"`
	City     string `json:"city"`
}

// Record is the canonical, derived-field-complete project snapshot.
type Record struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ShortTitle string `json:"short_title"`
	Category   string `json:"category"`
	UserID     int64  `json:"user_id"`

	CreateTime string `json:"create_time"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	OnlineTime string `json:"online_time"`

	GoalAmount     float64 `json:"goal_amount"`
	RaisedAmount   float64 `json:"raised_amount"`
	BackerCount    int64   `json:"backer_count"`
	CompletionRate float64 `json:"completion_rate"`
	Status         Status  `json:"status"`

	CommentCount   int64 `json:"comment_count"`
	FavorCount     int64 `json:"favor_count"`
	SubscribeCount int64 `json:"subscribe_count"`

	RewardTiersCount int          `json:"reward_tiers_count"`
	RewardTiers      []RewardTier `json:"reward_tiers"`

	Description string `json:"description"`

	Logo  string `json:"logo"`
	Video string `json:"video"`

	Location Location `json:"location"`
}

// Version is one persisted snapshot of a project. Versions are immutable once
// written.
type Version struct {
	ProjectID   int64           `json:"project_id"`
	Version     int             `json:"version"`
	CrawlTime   time.Time       `json:"crawl_time"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Data        Record          `json:"data"`
	RawData     json.RawMessage `json:"raw_data,omitempty"`
}

// IndexEntry summarizes one project across all of its stored versions.
type IndexEntry struct {
	ProjectID       int64      `json:"project_id"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Status          Status     `json:"status"`
	FirstCrawlTime  time.Time  `json:"first_crawl_time"`
	LastCrawlTime   *time.Time `json:"last_crawl_time,omitempty"`
	VersionCount    int        `json:"version_count"`
	FilePath        string     `json:"file_path"`
	LastFingerprint string     `json:"last_fingerprint,omitempty"`
}
