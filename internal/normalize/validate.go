package normalize

import (
	"fmt"
	"regexp"
	"time"

	"github.com/JakeFAU/modian-insight/internal/project"
)

var upstreamTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// Validate applies basic sanity checks to a canonical record. Failures wrap
// project.ErrValidationFailed.
func Validate(rec project.Record) error {
	if rec.ID <= 0 {
		return fmt.Errorf("%w: missing project id", project.ErrValidationFailed)
	}
	if rec.Name == "" {
		return fmt.Errorf("%w: project %d has no name", project.ErrValidationFailed, rec.ID)
	}
	if rec.GoalAmount < 0 || rec.RaisedAmount < 0 {
		return fmt.Errorf("%w: project %d has a negative amount", project.ErrValidationFailed, rec.ID)
	}
	if rec.BackerCount < 0 || rec.CommentCount < 0 || rec.FavorCount < 0 || rec.SubscribeCount < 0 {
		return fmt.Errorf("%w: project %d has a negative counter", project.ErrValidationFailed, rec.ID)
	}
	for name, value := range map[string]string{
		"create_time": rec.CreateTime,
		"start_time":  rec.StartTime,
		"end_time":    rec.EndTime,
		"online_time": rec.OnlineTime,
	} {
		if value == "" {
			continue
		}
		if !upstreamTimestamp.MatchString(value) {
			return fmt.Errorf("%w: project %d %s %q is malformed", project.ErrValidationFailed, rec.ID, name, value)
		}
		if _, err := time.Parse(UpstreamLayout, value); err != nil {
			return fmt.Errorf("%w: project %d %s %q is not a date", project.ErrValidationFailed, rec.ID, name, value)
		}
	}
	return nil
}
