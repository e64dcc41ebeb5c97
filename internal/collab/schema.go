package collab

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
)

// stateSchema describes the CanvasState carried by a "state" grid-update.
// Bodies are left open; the checks cover what the store relies on.
const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["items", "connections"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "x", "y", "width", "height"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["text", "image", "shape", "card"]},
          "x": {"type": "number"},
          "y": {"type": "number"},
          "width": {"type": "number", "exclusiveMinimum": 0},
          "height": {"type": "number", "exclusiveMinimum": 0},
          "tags": {"type": ["array", "null"], "items": {"type": "string"}},
          "cardName": {"type": "string"}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "from", "to"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1}
        }
      }
    },
    "transform": {
      "type": "object",
      "properties": {
        "zoom": {"type": "number", "minimum": 0.1, "maximum": 3},
        "scrollLeft": {"type": "number"},
        "scrollTop": {"type": "number"}
      }
    }
  }
}`

// Validator checks snapshot payloads before they are relayed.
type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(stateSchema))
	if err != nil {
		return nil, fmt.Errorf("compile state schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate reports every schema violation of a raw CanvasState document.
func (v *Validator) Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty snapshot")
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate snapshot: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid snapshot: %s", strings.Join(msgs, "; "))
}

// DecodeState validates and decodes a snapshot payload.
func (v *Validator) DecodeState(raw json.RawMessage) (domain.CanvasState, error) {
	if err := v.Validate(raw); err != nil {
		return domain.CanvasState{}, err
	}
	var st domain.CanvasState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.CanvasState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return st, nil
}
