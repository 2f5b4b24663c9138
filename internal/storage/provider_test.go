package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/storage"
)

func TestCleanKey(t *testing.T) {
	t.Parallel()

	got, err := storage.CleanKey("projects/00/00/00/42.json")
	require.NoError(t, err)
	assert.Equal(t, "projects/00/00/00/42.json", got)

	got, err = storage.CleanKey(" a/./b//c.json ")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.json", got)

	for _, bad := range []string{"", "   ", "/etc/passwd", "../x", "a/../../x", "..", `a\b`} {
		_, err := storage.CleanKey(bad)
		assert.Error(t, err, bad)
	}
}
