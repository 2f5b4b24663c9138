package crawler

import (
	"context"
	"encoding/json"
	"time"
)

// Fetcher retrieves the raw upstream payload of one project.
type Fetcher interface {
	FetchRawProject(ctx context.Context, id int64) (json.RawMessage, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
