package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
)

// IndexRecordName is the storyboard index holding the connection table.
const IndexRecordName = "SBSUP-INDEX-1.md"

const noStoryDescription = "_No description provided._"

var (
	slugPattern       = regexp.MustCompile(`[^A-Z0-9]+`)
	connectionsHeader = regexp.MustCompile(`(?m)^\|\s*Connection ID\s*\|\s*From Card ID\s*\|\s*To Card ID\s*\|\s*$`)
	statusPattern     = regexp.MustCompile(`(?i)\*\*Status\*\*:\s*(\w+(?:\s+\w+)?)`)
)

// StoryFileName derives the record name of a story card from its title.
func StoryFileName(title string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToUpper(title), "-"), "-")
	if slug == "" {
		slug = "UNTITLED"
	}
	return "STORY-" + slug + ".md"
}

// IsStoryRecord reports whether a record belongs to the storyboard page.
func IsStoryRecord(name string) bool {
	return (strings.HasPrefix(name, "STORY-") && strings.HasSuffix(name, ".md")) || name == IndexRecordName
}

// ── Export ─────────────────────────────────────────────────

func exportStoryboard(st domain.CanvasState, opts ExportOptions) []domain.Record {
	cards := lo.Filter(st.Items, func(it domain.Item, _ int) bool { return it.Kind == domain.KindCard && it.Card != nil })
	if len(cards) == 0 {
		return nil
	}

	names := make(map[string]string, len(cards))
	emitted := map[string]bool{IndexRecordName: true}
	for _, c := range cards {
		base := StoryFileName(c.Card.Title)
		name := base
		for n := 2; emitted[name]; n++ {
			name = strings.TrimSuffix(base, ".md") + "-" + strconv.Itoa(n) + ".md"
		}
		emitted[name] = true
		names[c.ID] = name
	}
	byID := lo.KeyBy(cards, func(it domain.Item) string { return it.ID })
	generated := opts.Now.Format("2006-01-02 15:04:05")

	records := make([]domain.Record, 0, len(cards)+1)
	for i, c := range cards {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", c.Card.Title)
		b.WriteString("## Metadata\n")
		b.WriteString("- **Type**: Story Card\n")
		fmt.Fprintf(&b, "- **Storyboard**: %s\n", opts.Workspace)
		fmt.Fprintf(&b, "- **Card ID**: %s\n", c.ID)
		fmt.Fprintf(&b, "- **Status**: %s\n", c.Card.Status.Label())
		fmt.Fprintf(&b, "- **Grid Position X**: %d\n", round(c.X))
		fmt.Fprintf(&b, "- **Grid Position Y**: %d\n", round(c.Y))
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "- **Tags**: %s\n", strings.Join(c.Tags, ", "))
		}
		if c.Card.IdeationCardID != "" {
			fmt.Fprintf(&b, "- **Ideation Card ID**: %s\n", c.Card.IdeationCardID)
		}
		fmt.Fprintf(&b, "- **Generated**: %s\n", generated)
		fmt.Fprintf(&b, "- **File**: %s\n\n", names[c.ID])

		b.WriteString("## Description\n")
		b.WriteString(lo.CoalesceOrEmpty(strings.TrimSpace(c.Card.Description), noStoryDescription))
		b.WriteString("\n\n")

		in := lo.Filter(st.Connections, func(x domain.Connection, _ int) bool { return x.To == c.ID })
		out := lo.Filter(st.Connections, func(x domain.Connection, _ int) bool { return x.From == c.ID })
		b.WriteString("## Dependencies\n\n")
		b.WriteString("### Upstream Dependencies\n")
		writeDependencyTable(&b, in, byID, names, func(x domain.Connection) string { return x.From },
			"_No upstream dependencies - this is a starting point in the flow._")
		b.WriteString("### Downstream Impact\n")
		writeDependencyTable(&b, out, byID, names, func(x domain.Connection) string { return x.To },
			"_No downstream dependencies - this is an end point in the flow._")

		b.WriteString("## Flow Visualization\n\n```mermaid\nflowchart TD\n")
		self := Strip(c.ID)
		for _, x := range in {
			if src, ok := byID[x.From]; ok {
				fmt.Fprintf(&b, "    %s[\"%s\"]\n", Strip(src.ID), src.Card.Title)
			}
		}
		fmt.Fprintf(&b, "    %s[\"%s %s\"]:::current\n", self, statusGlyph(c.Card.Status), c.Card.Title)
		for _, x := range out {
			if dst, ok := byID[x.To]; ok {
				fmt.Fprintf(&b, "    %s[\"%s\"]\n", Strip(dst.ID), dst.Card.Title)
			}
		}
		for _, x := range in {
			fmt.Fprintf(&b, "    %s --> %s\n", Strip(x.From), self)
		}
		for _, x := range out {
			fmt.Fprintf(&b, "    %s --> %s\n", self, Strip(x.To))
		}
		b.WriteString("    classDef current fill:#e3f2fd,stroke:#1976d2,stroke-width:3px\n```\n\n")

		b.WriteString("## Implementation Notes\n")
		fmt.Fprintf(&b, "- This is story card %d of %d in the storyboard\n", i+1, len(cards))
		fmt.Fprintf(&b, "- Current status: %s\n\n", c.Card.Status.Label())

		records = append(records, domain.Record{Name: names[c.ID], Content: b.String()})
	}
	records = append(records, storyIndex(cards, st.Connections, names, opts.Workspace, generated))
	return records
}

func writeDependencyTable(b *strings.Builder, conns []domain.Connection, byID map[string]domain.Item, names map[string]string, other func(domain.Connection) string, empty string) {
	rows := 0
	for _, x := range conns {
		if _, ok := byID[other(x)]; ok {
			rows++
		}
	}
	if rows == 0 {
		b.WriteString(empty + "\n\n")
		return
	}
	b.WriteString("| Card Title | Card ID | Connection ID | File Reference |\n")
	b.WriteString("|------------|---------|---------------|----------------|\n")
	for _, x := range conns {
		c, ok := byID[other(x)]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "| %s | %s | %s | [%s](./%s) |\n", c.Card.Title, c.ID, x.ID, names[c.ID], names[c.ID])
	}
	b.WriteString("\n")
}

func storyIndex(cards []domain.Item, conns []domain.Connection, names map[string]string, workspace, generated string) domain.Record {
	var b strings.Builder
	fmt.Fprintf(&b, "# Storyboard Index: %s\n\n", workspace)
	b.WriteString("## Metadata\n")
	fmt.Fprintf(&b, "- **Workspace**: %s\n", workspace)
	fmt.Fprintf(&b, "- **Generated**: %s\n", generated)
	fmt.Fprintf(&b, "- **Total Cards**: %d\n", len(cards))
	fmt.Fprintf(&b, "- **Total Connections**: %d\n\n", len(conns))

	b.WriteString("## Story Cards\n\n")
	b.WriteString("| # | Title | Status | X | Y | File | Dependencies |\n")
	b.WriteString("|---|-------|--------|---|---|------|-------------|\n")
	for i, c := range cards {
		deps := lo.CountBy(conns, func(x domain.Connection) bool { return x.Touches(c.ID) })
		fmt.Fprintf(&b, "| %d | [%s](./%s) | %s | %d | %d | %s | %d |\n",
			i+1, c.Card.Title, names[c.ID], c.Card.Status.Label(), round(c.X), round(c.Y), names[c.ID], deps)
	}
	b.WriteString("\n")

	b.WriteString("## Connections Data\n\n")
	b.WriteString("This section contains connection data for restoring the storyboard layout.\n\n")
	b.WriteString("| Connection ID | From Card ID | To Card ID |\n")
	b.WriteString("|---------------|--------------|------------|\n")
	for _, x := range conns {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", x.ID, x.From, x.To)
	}
	b.WriteString("\n")

	b.WriteString("## Statistics\n")
	for _, s := range []domain.CardStatus{domain.StatusCompleted, domain.StatusInProgress, domain.StatusPending} {
		n := lo.CountBy(cards, func(c domain.Item) bool { return c.Card.Status == s })
		fmt.Fprintf(&b, "- **%s**: %d\n", s.Label(), n)
	}
	b.WriteString("\n")
	return domain.Record{Name: IndexRecordName, Content: b.String()}
}

func statusGlyph(s domain.CardStatus) string {
	switch s {
	case domain.StatusCompleted:
		return "✓"
	case domain.StatusInProgress:
		return "⟳"
	}
	return "○"
}

// ── Import ─────────────────────────────────────────────────

func importStoryboard(records []domain.Record, existing domain.CanvasState, opts ImportOptions) ImportResult {
	res := ImportResult{IDs: NewIDMap()}
	known := dedupeIndex(existing.Items)
	taken := map[string]bool{}
	maxX, haveCards := 0.0, false
	for _, it := range existing.Items {
		taken[it.ID] = true
		if it.Kind == domain.KindCard {
			if !haveCards || it.X > maxX {
				maxX = it.X
			}
			haveCards = true
		}
	}
	offset := 100.0
	if haveCards {
		offset = maxX + 400
	}
	grid := geometry.NewStoryGrid(offset)

	var index *domain.Record
	for i, rec := range records {
		if rec.Name == IndexRecordName {
			index = &records[i]
			continue
		}
		if !strings.HasPrefix(rec.Name, "STORY-") || !strings.HasSuffix(rec.Name, ".md") {
			continue
		}
		it, savedID := parseStory(rec)
		key := DedupeKey(it)
		if id, dup := known[key]; dup {
			res.Duplicates = append(res.Duplicates, rec.Name)
			if savedID != "" {
				res.IDs.Bind(savedID, id)
			}
			continue
		}

		it.ID = savedID
		if it.ID == "" || taken[it.ID] {
			it.ID = opts.NewID()
		}
		taken[it.ID] = true
		if savedID != "" {
			res.IDs.Bind(savedID, it.ID)
		}
		if _, _, ok := storyPosition(rec.Content); !ok {
			p := grid.Next()
			it.X, it.Y = p.X, p.Y
		}
		known[key] = it.ID
		res.Items = append(res.Items, it)
	}

	if index == nil {
		return res
	}
	conns := newConnectionSet(existing.Connections)
	for _, row := range connectionRows(index.Content) {
		from := resolveCard(res.IDs, taken, row[1])
		to := resolveCard(res.IDs, taken, row[2])
		if from == "" || to == "" {
			continue
		}
		c := domain.Connection{ID: row[0], From: from, To: to}
		if conns.ids[c.ID] {
			if conns.pairs[pairKey{from, to}] {
				continue
			}
			c.ID = opts.NewID()
		}
		if conns.add(c) {
			res.Connections = append(res.Connections, c)
		}
	}
	return res
}

func resolveCard(ids *IDMap, taken map[string]bool, saved string) string {
	if id, ok := ids.Runtime(saved); ok {
		return id
	}
	if taken[saved] {
		return saved
	}
	return ""
}

// parseStory reads a story record. It returns the card with the saved
// position applied and the card id stored in the record, if any.
func parseStory(rec domain.Record) (domain.Item, string) {
	content := strings.ReplaceAll(rec.Content, "\r\n", "\n")
	sections := splitSections(content, 2)
	meta, _ := findSection(sections, "Metadata")

	title := heading(content)
	if title == "" {
		title = strings.TrimSuffix(rec.Name, ".md")
	}
	desc, _ := findSection(sections, "Description")
	desc = strings.Trim(strings.TrimSpace(desc), "_")
	if desc == "No description provided." {
		desc = ""
	}

	status := domain.StatusPending
	if m := statusPattern.FindStringSubmatch(meta); m != nil {
		s := strings.ToLower(m[1])
		switch {
		case strings.Contains(s, "complete"):
			status = domain.StatusCompleted
		case strings.Contains(s, "progress"):
			status = domain.StatusInProgress
		}
	}
	savedID, _ := field(meta, "Card ID")
	ideation, _ := field(meta, "Ideation Card ID")

	it := domain.Item{
		Kind:   domain.KindCard,
		Width:  domain.StoryCardWidth,
		Height: domain.StoryCardHeight,
		Tags:   tagsField(meta),
		Card: &domain.StoryCardBody{
			Title:          title,
			Description:    desc,
			Status:         status,
			IdeationCardID: ideation,
			SourceFileName: rec.Name,
		},
	}
	if x, y, ok := storyPosition(content); ok {
		it.X, it.Y = x, y
	}
	return it, savedID
}

func storyPosition(content string) (float64, float64, bool) {
	x, okX := numberField(content, "Grid Position X")
	y, okY := numberField(content, "Grid Position Y")
	return x, y, okX && okY
}

// connectionRows parses the rows of the Connections Data table.
func connectionRows(index string) [][3]string {
	sections := splitSections(strings.ReplaceAll(index, "\r\n", "\n"), 2)
	body, ok := findSection(sections, "Connections Data")
	if !ok {
		return nil
	}
	loc := connectionsHeader.FindStringIndex(body)
	if loc == nil {
		return nil
	}
	var rows [][3]string
	for _, line := range strings.Split(body[loc[1]:], "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			if len(rows) > 0 {
				break
			}
			continue
		}
		cells := lo.Compact(lo.Map(strings.Split(line, "|"), func(c string, _ int) string { return strings.TrimSpace(c) }))
		if len(cells) < 3 || strings.Trim(cells[0], "-") == "" {
			continue
		}
		rows = append(rows, [3]string{cells[0], cells[1], cells[2]})
	}
	return rows
}
