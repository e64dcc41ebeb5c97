package codec

import (
	"regexp"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`^IDEA-([a-zA-Z0-9]+)`)

// Strip removes every non-alphanumeric character from an id, producing the
// token embedded in record names.
func Strip(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TokenFromName extracts the stripped id from an IDEA-<token> record name.
func TokenFromName(name string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IDMap is a bidirectional mapping between stripped tokens found in
// records and runtime item ids.
type IDMap struct {
	runtime  map[string]string
	stripped map[string]string
}

func NewIDMap() *IDMap {
	return &IDMap{runtime: map[string]string{}, stripped: map[string]string{}}
}

// Bind associates a token with a runtime id, replacing earlier bindings of
// either side.
func (m *IDMap) Bind(token, runtimeID string) {
	if old, ok := m.runtime[token]; ok {
		delete(m.stripped, old)
	}
	if old, ok := m.stripped[runtimeID]; ok {
		delete(m.runtime, old)
	}
	m.runtime[token] = runtimeID
	m.stripped[runtimeID] = token
}

func (m *IDMap) Runtime(token string) (string, bool) {
	id, ok := m.runtime[token]
	return id, ok
}

func (m *IDMap) Stripped(runtimeID string) (string, bool) {
	t, ok := m.stripped[runtimeID]
	return t, ok
}

func (m *IDMap) Len() int { return len(m.runtime) }

// exportIDs assigns a unique token to every runtime id. Ids that strip to
// the same token get a numeric suffix in order of appearance.
func exportIDs(ids []string) *IDMap {
	m := NewIDMap()
	for _, id := range ids {
		base := Strip(id)
		if base == "" {
			base = "item"
		}
		token := base
		for n := 2; ; n++ {
			if _, taken := m.runtime[token]; !taken {
				break
			}
			token = base + "n" + strconv.Itoa(n)
		}
		m.Bind(token, id)
	}
	return m
}
