package modian

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// jsonpEnvelope matches both `cb(JSON);` and
// `window[decodeURIComponent('cb')](JSON);`.
var jsonpEnvelope = regexp.MustCompile(
	`^\s*(?:window\[decodeURIComponent\('[A-Za-z_$][\w$]*'\)\]|[A-Za-z_$][\w$]*)\(([\s\S]*)\)\s*;?\s*$`,
)

// Unwrap strips the JSONP envelope from body and returns the first element of
// the wrapped array.
func Unwrap(body []byte) (json.RawMessage, error) {
	m := jsonpEnvelope.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: unrecognized jsonp envelope", project.ErrParseFailed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(m[1], &items); err != nil {
		return nil, fmt.Errorf("%w: decode jsonp payload: %w", project.ErrParseFailed, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty project list", project.ErrParseFailed)
	}
	first := bytes.TrimSpace(items[0])
	if len(first) == 0 || bytes.Equal(first, []byte("null")) {
		return nil, fmt.Errorf("%w: empty project payload", project.ErrParseFailed)
	}
	return json.RawMessage(first), nil
}
