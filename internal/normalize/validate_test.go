package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/project"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	base := project.Record{
		ID:         1,
		Name:       "ok",
		CreateTime: "2025-01-01 08:00:00",
		EndTime:    "2025-02-01 08:00:00",
	}
	require.NoError(t, Validate(base))

	tests := []struct {
		name   string
		mutate func(*project.Record)
	}{
		{"missing id", func(r *project.Record) { r.ID = 0 }},
		{"missing name", func(r *project.Record) { r.Name = "" }},
		{"negative raised", func(r *project.Record) { r.RaisedAmount = -1 }},
		{"negative backers", func(r *project.Record) { r.BackerCount = -3 }},
		{"malformed timestamp", func(r *project.Record) { r.StartTime = "2025/01/01" }},
		{"impossible date", func(r *project.Record) { r.OnlineTime = "2025-13-40 99:00:00" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := base
			tt.mutate(&rec)
			require.ErrorIs(t, Validate(rec), project.ErrValidationFailed)
		})
	}
}
