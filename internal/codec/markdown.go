package codec

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// section is a markdown heading and the text up to the next heading of the
// same or a higher level.
type section struct {
	Title string
	Body  string
}

var (
	headingPattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	pairPattern    = regexp.MustCompile(`\(\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\)`)
	sizePattern    = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:×|x|X)\s*(-?\d+(?:\.\d+)?)`)
	numberPattern  = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	linkLine       = regexp.MustCompile(`^-\s*(.+?):\s*\[[^\]]*\]\(([^)]*)\)`)
	refLine        = regexp.MustCompile(`^-\s*(.*?)\s*\[ID:\s*([a-zA-Z0-9]+)\]`)
)

// splitSections splits text on headings of exactly the given level.
func splitSections(text string, level int) []section {
	prefix := strings.Repeat("#", level) + " "
	var out []section
	var cur *section
	var body strings.Builder
	flush := func() {
		if cur != nil {
			cur.Body = strings.TrimSpace(body.String())
			out = append(out, *cur)
		}
		body.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			flush()
			cur = &section{Title: strings.TrimSpace(strings.TrimPrefix(line, prefix))}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return out
}

func findSection(sections []section, title string) (string, bool) {
	for _, s := range sections {
		if strings.EqualFold(s.Title, title) {
			return s.Body, true
		}
	}
	return "", false
}

// heading returns the first level-one heading.
func heading(text string) string {
	if m := headingPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// field reads a "- **Key**: value" line.
func field(text, key string) (string, bool) {
	re := regexp.MustCompile(`(?m)^-\s*\*\*` + regexp.QuoteMeta(key) + `\*\*:[ \t]*(.*)$`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func pointField(text, key string) (float64, float64, bool) {
	v, ok := field(text, key)
	if !ok {
		return 0, 0, false
	}
	m := pairPattern.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, false
	}
	x, _ := strconv.ParseFloat(m[1], 64)
	y, _ := strconv.ParseFloat(m[2], 64)
	return x, y, true
}

func sizeField(text, key string) (float64, float64, bool) {
	v, ok := field(text, key)
	if !ok {
		return 0, 0, false
	}
	m := sizePattern.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, false
	}
	w, _ := strconv.ParseFloat(m[1], 64)
	h, _ := strconv.ParseFloat(m[2], 64)
	return w, h, true
}

func numberField(text, key string) (float64, bool) {
	v, ok := field(text, key)
	if !ok {
		return 0, false
	}
	m := numberPattern.FindString(v)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

func tagsField(text string) []string {
	v, ok := field(text, "Tags")
	if !ok {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// refs parses "- name [ID: token]" lines.
func refs(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if m := refLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out = append(out, m[2])
		}
	}
	return out
}

// round matches the integer precision positions are written with.
func round(v float64) int {
	return int(math.Round(v))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
