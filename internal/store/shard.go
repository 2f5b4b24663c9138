package store

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ProjectsPrefix is the key prefix of per-project artifacts.
const ProjectsPrefix = "projects"

// ShardKey returns the artifact key of a project. The id is zero-padded to
// eight digits and its first three digit pairs become nested directories, so
// 42 maps to projects/00/00/00/42.json.
func ShardKey(id int64) string {
	padded := fmt.Sprintf("%08d", id)
	return path.Join(ProjectsPrefix, padded[0:2], padded[2:4], padded[4:6], strconv.FormatInt(id, 10)+".json")
}

// projectIDFromKey parses the id back out of an artifact key.
func projectIDFromKey(key string) (int64, bool) {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".json") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(base, ".json"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, ShardKey(id) == key
}
