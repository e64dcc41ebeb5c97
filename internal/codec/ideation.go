package codec

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/geometry"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

const (
	typeIdeationCard = "Ideation Card"
	typeImageCard    = "Image Card"
	defaultHeading   = "Ideation Card"
	noDescription    = "No description provided."
)

// ── Export ─────────────────────────────────────────────────

type ideationWriter struct {
	st    domain.CanvasState
	opts  ExportOptions
	ids   *IDMap
	items map[string]domain.Item
}

func exportIdeation(st domain.CanvasState, opts ExportOptions) []domain.Record {
	w := &ideationWriter{
		st:    st,
		opts:  opts,
		ids:   exportIDs(lo.Map(st.Items, func(it domain.Item, _ int) string { return it.ID })),
		items: lo.KeyBy(st.Items, func(it domain.Item) string { return it.ID }),
	}
	logger := log.WithComponent("codec")

	var text, images, shapes []domain.Record
	for _, it := range st.Items {
		switch it.Kind {
		case domain.KindText:
			text = append(text, w.textRecord(it))
		case domain.KindImage:
			recs, err := w.imageRecords(it)
			if err != nil {
				logger.Warn("image exported as reference", slog.String("id", it.ID), slog.String("err", err.Error()))
			}
			images = append(images, recs...)
		case domain.KindShape:
			shapes = append(shapes, w.shapeRecord(it))
		case domain.KindCard:
			logger.Debug("story card skipped on ideation export", slog.String("id", it.ID))
		}
	}
	return append(append(text, images...), shapes...)
}

func (w *ideationWriter) token(id string) string {
	if t, ok := w.ids.Stripped(id); ok {
		return t
	}
	return Strip(id)
}

func (w *ideationWriter) displayName(id string) string {
	if it, ok := w.items[id]; ok {
		return it.DisplayName()
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (w *ideationWriter) metadata(b *strings.Builder, it domain.Item, typ string, withBounds bool) {
	b.WriteString("## Metadata\n")
	fmt.Fprintf(b, "- **ID**: IDEA-%s\n", w.token(it.ID))
	fmt.Fprintf(b, "- **Type**: %s\n", typ)
	fmt.Fprintf(b, "- **Created**: %s\n", w.opts.Now.Format("2006-01-02"))
	fmt.Fprintf(b, "- **Workspace**: %s\n", w.opts.Workspace)
	if len(it.Tags) > 0 {
		fmt.Fprintf(b, "- **Tags**: %s\n", strings.Join(it.Tags, ", "))
	}
	if withBounds {
		writeBounds(b, it.X, it.Y, it.Width, it.Height)
	}
	b.WriteString("\n")
}

func writeBounds(b *strings.Builder, x, y, width, height float64) {
	fmt.Fprintf(b, "- **Position**: (%d, %d)\n", round(x), round(y))
	fmt.Fprintf(b, "- **Size**: %d × %d\n", round(width), round(height))
}

func (w *ideationWriter) connections(b *strings.Builder, id string) {
	out := lo.Filter(w.st.Connections, func(c domain.Connection, _ int) bool { return c.From == id })
	in := lo.Filter(w.st.Connections, func(c domain.Connection, _ int) bool { return c.To == id })
	if len(out) == 0 && len(in) == 0 {
		return
	}
	b.WriteString("## Connections\n")
	if len(out) > 0 {
		b.WriteString("### Connected To\n")
		for _, c := range out {
			fmt.Fprintf(b, "- %s [ID: %s]\n", w.displayName(c.To), w.token(c.To))
		}
		b.WriteString("\n")
	}
	if len(in) > 0 {
		b.WriteString("### Connected From\n")
		for _, c := range in {
			fmt.Fprintf(b, "- %s [ID: %s]\n", w.displayName(c.From), w.token(c.From))
		}
		b.WriteString("\n")
	}
}

func (w *ideationWriter) refs(id string, outgoing bool) []ConnectionRef {
	var out []ConnectionRef
	for _, c := range w.st.Connections {
		switch {
		case outgoing && c.From == id:
			out = append(out, ConnectionRef{ID: w.token(c.To), Name: w.displayName(c.To)})
		case !outgoing && c.To == id:
			out = append(out, ConnectionRef{ID: w.token(c.From), Name: w.displayName(c.From)})
		}
	}
	return out
}

func (w *ideationWriter) textRecord(it domain.Item) domain.Record {
	body := it.Text
	if body == nil {
		body = &domain.TextBody{}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", lo.CoalesceOrEmpty(it.CardName, defaultHeading))
	w.metadata(&b, it, typeIdeationCard, true)

	b.WriteString("## Description\n")
	b.WriteString(lo.CoalesceOrEmpty(strings.TrimSpace(body.Content), noDescription))
	b.WriteString("\n\n")

	if len(body.Notes) > 0 {
		b.WriteString("## Additional Notes\n")
		for i, n := range body.Notes {
			fmt.Fprintf(&b, "### Note %d\n%s\n\n", i+1, n)
		}
	}
	if len(body.TextBoxes) > 0 {
		b.WriteString("## Text Annotations\n")
		for i, tb := range body.TextBoxes {
			fmt.Fprintf(&b, "### Text Box %d\n", i+1)
			fmt.Fprintf(&b, "- **Content**: %s\n", oneLine(tb.Content))
			writeBounds(&b, tb.X, tb.Y, tb.Width, tb.Height)
			if tb.FontSize > 0 {
				fmt.Fprintf(&b, "- **Font Size**: %spx\n", formatNumber(tb.FontSize))
			}
			b.WriteString("\n")
		}
	}
	if len(body.Shapes) > 0 {
		b.WriteString("## Card Shapes\n")
		for i, s := range body.Shapes {
			fmt.Fprintf(&b, "### Shape %d\n", i+1)
			fmt.Fprintf(&b, "- **Type**: %s\n", lo.CoalesceOrEmpty(string(s.ShapeType), string(domain.ShapeBox)))
			writeBounds(&b, s.X, s.Y, s.Width, s.Height)
			if s.FillColor != "" {
				fmt.Fprintf(&b, "- **Fill Color**: %s\n", s.FillColor)
			}
			if s.StrokeColor != "" {
				fmt.Fprintf(&b, "- **Stroke Color**: %s\n", s.StrokeColor)
			}
			if s.StrokeWidth > 0 {
				fmt.Fprintf(&b, "- **Stroke Width**: %spx\n", formatNumber(s.StrokeWidth))
			}
			b.WriteString("\n")
		}
	}
	if len(body.Images) > 0 {
		b.WriteString("## Card Images\n")
		for i, img := range body.Images {
			fmt.Fprintf(&b, "### Image %d\n", i+1)
			fmt.Fprintf(&b, "- **URL**: %s\n", img.URL)
			writeBounds(&b, img.X, img.Y, img.Width, img.Height)
			b.WriteString("\n")
		}
	}
	if len(body.Assets) > 0 {
		b.WriteString("## Assets\n")
		for _, a := range body.Assets {
			fmt.Fprintf(&b, "- %s: [View](%s)\n", a.Name, a.URL)
		}
		b.WriteString("\n")
	}
	w.connections(&b, it.ID)

	return domain.Record{Name: "IDEA-" + w.token(it.ID) + ".md", Content: b.String()}
}

func (w *ideationWriter) shapeRecord(it domain.Item) domain.Record {
	sh := it.Shape
	if sh == nil {
		sh = &domain.ShapeBody{ShapeType: domain.ShapeBox}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Shape: %s\n\n", sh.ShapeType)
	w.metadata(&b, it, fmt.Sprintf("Shape (%s)", sh.ShapeType), false)

	b.WriteString("## Properties\n")
	fmt.Fprintf(&b, "- **Shape Type**: %s\n", sh.ShapeType)
	if it.CardName != "" {
		fmt.Fprintf(&b, "- **Name**: %s\n", it.CardName)
	}
	writeBounds(&b, it.X, it.Y, it.Width, it.Height)
	fmt.Fprintf(&b, "- **Fill Color**: %s\n", sh.FillColor)
	fmt.Fprintf(&b, "- **Stroke Color**: %s\n", sh.StrokeColor)
	fmt.Fprintf(&b, "- **Stroke Width**: %spx\n", formatNumber(sh.StrokeWidth))
	if sh.ShapeType == domain.ShapeLine && (sh.CurveControlX != 0 || sh.CurveControlY != 0) {
		fmt.Fprintf(&b, "- **Curve Control**: (%s, %s)\n", formatNumber(sh.CurveControlX), formatNumber(sh.CurveControlY))
	}
	b.WriteString("\n")
	w.connections(&b, it.ID)

	return domain.Record{Name: "IDEA-" + w.token(it.ID) + ".md", Content: b.String()}
}

// imageRecords writes an embedded image as binary plus companion. Images
// that are not base64 data URLs are written as an Image Card reference.
func (w *ideationWriter) imageRecords(it domain.Item) ([]domain.Record, error) {
	img := it.Image
	if img == nil {
		img = &domain.ImageBody{}
	}
	data, err := DecodeDataURL(img.URL)
	if err != nil {
		return []domain.Record{w.imageCardRecord(it, img)}, err
	}
	name := "IDEA-" + w.token(it.ID) + "." + extensionFor(img.URL)
	x, y := it.X, it.Y
	meta, err := json.MarshalIndent(Companion{
		FileName:      name,
		X:             &x,
		Y:             &y,
		Width:         it.Width,
		Height:        it.Height,
		Tags:          it.Tags,
		TextContent:   img.TextContent,
		CardName:      it.CardName,
		ConnectedTo:   w.refs(it.ID, true),
		ConnectedFrom: w.refs(it.ID, false),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode companion for %s: %w", it.ID, err)
	}
	return []domain.Record{{Name: name, Data: data, Metadata: meta}}, nil
}

func (w *ideationWriter) imageCardRecord(it domain.Item, img *domain.ImageBody) domain.Record {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", lo.CoalesceOrEmpty(it.CardName, typeImageCard))
	w.metadata(&b, it, typeImageCard, true)
	b.WriteString("## Image\n")
	fmt.Fprintf(&b, "- **URL**: %s\n\n", img.URL)
	if img.TextContent != "" {
		fmt.Fprintf(&b, "## Description\n%s\n\n", img.TextContent)
	}
	w.connections(&b, it.ID)
	return domain.Record{Name: "IDEA-" + w.token(it.ID) + ".md", Content: b.String()}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ── Import ─────────────────────────────────────────────────

// parsedRecord is an item parsed from a record before connections are
// resolved.
type parsedRecord struct {
	name        string
	token       string
	item        domain.Item
	connectedTo []string
}

type ideationReader struct {
	opts     ImportOptions
	flow     *geometry.FlowLayout
	existing map[string]string
	res      ImportResult
	logger   *slog.Logger
}

func importIdeation(records []domain.Record, existing domain.CanvasState, opts ImportOptions) ImportResult {
	r := &ideationReader{
		opts:     opts,
		flow:     geometry.NewFlowLayout(),
		existing: dedupeIndex(existing.Items),
		res:      ImportResult{IDs: NewIDMap()},
		logger:   log.WithComponent("codec"),
	}

	companions := map[string][]byte{}
	binaryTokens := map[string]bool{}
	var markdown, images []domain.Record
	for _, rec := range records {
		if _, ok := TokenFromName(rec.Name); !ok {
			continue
		}
		switch {
		case strings.EqualFold(extOf(rec.Name), "json"):
			companions[stem(rec.Name)] = []byte(rec.Content)
			if rec.Data != nil {
				companions[stem(rec.Name)] = rec.Data
			}
		case IsImageName(rec.Name):
			images = append(images, rec)
			t, _ := TokenFromName(rec.Name)
			binaryTokens[t] = true
		case strings.EqualFold(extOf(rec.Name), "md"):
			markdown = append(markdown, rec)
		}
	}

	var parsed []parsedRecord
	for _, rec := range markdown {
		token, _ := TokenFromName(rec.Name)
		if typ, _ := field(rec.Content, "Type"); strings.Contains(typ, typeImageCard) && binaryTokens[token] {
			continue
		}
		p := r.parseMarkdown(rec, token)
		parsed = append(parsed, r.place(p))
	}
	for _, rec := range images {
		token, _ := TokenFromName(rec.Name)
		meta := rec.Metadata
		if meta == nil {
			meta = companions[stem(rec.Name)]
		}
		parsed = append(parsed, r.place(r.parseImage(rec, token, meta)))
	}

	conns := newConnectionSet(existing.Connections)
	for _, p := range parsed {
		from, ok := r.res.IDs.Runtime(p.token)
		if !ok {
			continue
		}
		for _, target := range p.connectedTo {
			to, ok := r.res.IDs.Runtime(target)
			if !ok {
				r.logger.Debug("dropped connection to unknown record", slog.String("record", p.name), slog.String("target", target))
				continue
			}
			c := domain.Connection{ID: opts.NewID(), From: from, To: to}
			if conns.add(c) {
				r.res.Connections = append(r.res.Connections, c)
			}
		}
	}
	return r.res
}

// place binds the record token and either appends the item or, when its
// content matches an existing item, binds the token to that item instead.
func (r *ideationReader) place(p parsedRecord) parsedRecord {
	if id, dup := r.existing[DedupeKey(p.item)]; dup {
		r.res.IDs.Bind(p.token, id)
		r.res.Duplicates = append(r.res.Duplicates, p.name)
		return p
	}
	r.res.IDs.Bind(p.token, p.item.ID)
	r.res.Items = append(r.res.Items, p.item)
	return p
}

func (r *ideationReader) position(text string) (float64, float64) {
	if x, y, ok := pointField(text, "Position"); ok {
		return x, y
	}
	p := r.flow.Next()
	return p.X, p.Y
}

func (r *ideationReader) parseMarkdown(rec domain.Record, token string) parsedRecord {
	content := strings.ReplaceAll(rec.Content, "\r\n", "\n")
	sections := splitSections(content, 2)
	meta, hasMeta := findSection(sections, "Metadata")
	typ, _ := field(meta, "Type")

	p := parsedRecord{name: rec.Name, token: token}
	if conn, ok := findSection(sections, "Connections"); ok {
		if to, ok := findSection(splitSections(conn, 3), "Connected To"); ok {
			p.connectedTo = refs(to)
		}
	}

	switch {
	case strings.Contains(typ, "Shape"):
		p.item = r.parseShape(content, sections, meta)
	case strings.Contains(typ, typeImageCard):
		p.item = r.parseImageCard(content, sections, meta)
	default:
		if !hasMeta && heading(content) == "" {
			r.res.Malformed = append(r.res.Malformed, rec.Name)
		}
		p.item = r.parseText(content, sections, meta, token)
	}
	p.item.Tags = tagsField(meta)
	return p
}

func (r *ideationReader) parseText(content string, sections []section, meta, token string) domain.Item {
	name := heading(content)
	switch {
	case name == defaultHeading:
		name = ""
	case name == "" && len(sections) == 0:
		name = "Imported " + shortToken(token)
	}
	desc, _ := findSection(sections, "Description")
	if desc == noDescription {
		desc = ""
	}

	x, y := r.position(meta)
	w, h, ok := sizeField(meta, "Size")
	if !ok {
		w, h = geometry.DefaultItemWidth, geometry.DefaultItemHeight
	}
	body := &domain.TextBody{Content: desc}

	if notes, ok := findSection(sections, "Additional Notes"); ok {
		for _, n := range splitSections(notes, 3) {
			body.Notes = append(body.Notes, n.Body)
		}
	}
	if boxes, ok := findSection(sections, "Text Annotations"); ok {
		for _, s := range splitSections(boxes, 3) {
			sub := nestedBounds(s.Body)
			sub.Content, _ = field(s.Body, "Content")
			sub.FontSize, _ = numberField(s.Body, "Font Size")
			body.TextBoxes = append(body.TextBoxes, sub)
		}
	}
	if shapes, ok := findSection(sections, "Card Shapes"); ok {
		for _, s := range splitSections(shapes, 3) {
			typ, ok := field(s.Body, "Type")
			if !ok {
				continue
			}
			sub := nestedBounds(s.Body)
			sub.ShapeType = domain.ParseShapeType(typ)
			sub.FillColor = fieldOr(s.Body, "Fill Color", domain.DefaultFillColor)
			sub.StrokeColor = fieldOr(s.Body, "Stroke Color", domain.DefaultStrokeColor)
			sub.StrokeWidth = numberOr(s.Body, "Stroke Width", domain.DefaultStrokeWidth)
			body.Shapes = append(body.Shapes, sub)
		}
	}
	if images, ok := findSection(sections, "Card Images"); ok {
		for _, s := range splitSections(images, 3) {
			sub := nestedBounds(s.Body)
			sub.URL, _ = field(s.Body, "URL")
			body.Images = append(body.Images, sub)
		}
	}
	if assets, ok := findSection(sections, "Assets"); ok {
		for _, line := range strings.Split(assets, "\n") {
			if m := linkLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				body.Assets = append(body.Assets, domain.Asset{Name: strings.TrimSpace(m[1]), URL: m[2]})
			}
		}
	}

	return domain.Item{
		ID: r.opts.NewID(), Kind: domain.KindText,
		X: x, Y: y, Width: w, Height: h,
		CardName: name, Text: body,
	}
}

func (r *ideationReader) parseShape(content string, sections []section, meta string) domain.Item {
	props, _ := findSection(sections, "Properties")
	typ, ok := field(props, "Shape Type")
	if !ok {
		typ = strings.TrimSpace(strings.TrimPrefix(heading(content), "Shape:"))
	}
	x, y := r.position(props)
	w, h, ok := sizeField(props, "Size")
	if !ok {
		w, h = 150, 150
	}
	sh := &domain.ShapeBody{
		ShapeType:   domain.ParseShapeType(typ),
		FillColor:   fieldOr(props, "Fill Color", domain.DefaultFillColor),
		StrokeColor: fieldOr(props, "Stroke Color", domain.DefaultStrokeColor),
		StrokeWidth: numberOr(props, "Stroke Width", domain.DefaultStrokeWidth),
	}
	if cx, cy, ok := pointField(props, "Curve Control"); ok {
		sh.CurveControlX, sh.CurveControlY = cx, cy
	}
	name, _ := field(props, "Name")
	return domain.Item{
		ID: r.opts.NewID(), Kind: domain.KindShape,
		X: x, Y: y, Width: w, Height: h,
		CardName: name, Shape: sh,
	}
}

func (r *ideationReader) parseImageCard(content string, sections []section, meta string) domain.Item {
	name := heading(content)
	if name == typeImageCard {
		name = ""
	}
	imgSec, _ := findSection(sections, "Image")
	url, _ := field(imgSec, "URL")
	desc, _ := findSection(sections, "Description")
	x, y := r.position(meta)
	w, h, ok := sizeField(meta, "Size")
	if !ok {
		w, h = imageDefaultWidth, imageDefaultHeight
	}
	return domain.Item{
		ID: r.opts.NewID(), Kind: domain.KindImage,
		X: x, Y: y, Width: w, Height: h,
		CardName: name, Image: &domain.ImageBody{URL: url, TextContent: desc},
	}
}

func (r *ideationReader) parseImage(rec domain.Record, token string, meta []byte) parsedRecord {
	c, ok := parseCompanion(meta)
	if !ok && meta != nil {
		r.res.Malformed = append(r.res.Malformed, CompanionName(rec.Name))
	}
	it := domain.Item{
		ID:       r.opts.NewID(),
		Kind:     domain.KindImage,
		Width:    lo.Ternary(c.Width > 0, c.Width, imageDefaultWidth),
		Height:   lo.Ternary(c.Height > 0, c.Height, imageDefaultHeight),
		Tags:     c.Tags,
		CardName: c.CardName,
		Image:    &domain.ImageBody{URL: EncodeDataURL(rec.Name, rec.Data), TextContent: c.TextContent},
	}
	if c.X != nil && c.Y != nil {
		it.X, it.Y = *c.X, *c.Y
	} else {
		p := r.flow.Next()
		it.X, it.Y = p.X, p.Y
	}
	return parsedRecord{
		name:        rec.Name,
		token:       token,
		item:        it,
		connectedTo: lo.Map(c.ConnectedTo, func(ref ConnectionRef, _ int) string { return ref.ID }),
	}
}

// nestedBounds reads a sub-item rectangle, defaulting to 50,50 100×100.
func nestedBounds(text string) domain.SubItem {
	sub := domain.SubItem{X: 50, Y: 50, Width: 100, Height: 100}
	if x, y, ok := pointField(text, "Position"); ok {
		sub.X, sub.Y = x, y
	}
	if w, h, ok := sizeField(text, "Size"); ok {
		sub.Width, sub.Height = w, h
	}
	return sub
}

func fieldOr(text, key, def string) string {
	if v, ok := field(text, key); ok && v != "" {
		return v
	}
	return def
}

func numberOr(text, key string, def float64) float64 {
	if v, ok := numberField(text, key); ok {
		return v
	}
	return def
}

func shortToken(t string) string {
	if len(t) > 8 {
		return t[:8]
	}
	return t
}
