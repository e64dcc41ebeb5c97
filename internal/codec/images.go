package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrUnsupportedMedia = errors.New("unsupported image data")

// imageExts maps record extensions to media types.
var imageExts = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// IsImageName reports whether a record name carries an image extension.
func IsImageName(name string) bool {
	_, ok := imageExts[extOf(name)]
	return ok
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// extensionFor picks the record extension for a data URL, defaulting to png.
func extensionFor(dataURL string) string {
	switch {
	case strings.HasPrefix(dataURL, "data:image/jpeg"), strings.HasPrefix(dataURL, "data:image/jpg"):
		return "jpg"
	case strings.HasPrefix(dataURL, "data:image/gif"):
		return "gif"
	case strings.HasPrefix(dataURL, "data:image/webp"):
		return "webp"
	case strings.HasPrefix(dataURL, "data:image/svg"):
		return "svg"
	}
	return "png"
}

func mimeFor(name string) string {
	if m, ok := imageExts[extOf(name)]; ok {
		return m
	}
	return "image/png"
}

// DecodeDataURL returns the payload of a base64 data URL.
func DecodeDataURL(u string) ([]byte, error) {
	if !strings.HasPrefix(u, "data:") {
		return nil, fmt.Errorf("decode image: not a data url: %w", ErrUnsupportedMedia)
	}
	comma := strings.IndexByte(u, ',')
	if comma < 0 {
		return nil, fmt.Errorf("decode image: missing payload: %w", ErrUnsupportedMedia)
	}
	header, payload := u[5:comma], u[comma+1:]
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("decode image: %q is not base64: %w", header, ErrUnsupportedMedia)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return b, nil
}

// EncodeDataURL rebuilds a data URL for an image record.
func EncodeDataURL(name string, data []byte) string {
	return "data:" + mimeFor(name) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ConnectionRef names the other end of a connection in a companion record.
type ConnectionRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Companion is the JSON metadata stored next to an image record.
type Companion struct {
	FileName      string          `json:"fileName"`
	X             *float64        `json:"x,omitempty"`
	Y             *float64        `json:"y,omitempty"`
	Width         float64         `json:"width,omitempty"`
	Height        float64         `json:"height,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	TextContent   string          `json:"textContent,omitempty"`
	CardName      string          `json:"cardName,omitempty"`
	ConnectedTo   []ConnectionRef `json:"connectedTo,omitempty"`
	ConnectedFrom []ConnectionRef `json:"connectedFrom,omitempty"`
}

const (
	imageDefaultWidth  = 300
	imageDefaultHeight = 200
)

// CompanionName is the record name of the metadata for an image record.
func CompanionName(imageName string) string {
	return stem(imageName) + ".json"
}

func parseCompanion(b []byte) (Companion, bool) {
	var c Companion
	if len(b) == 0 {
		return c, false
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return Companion{}, false
	}
	return c, true
}
