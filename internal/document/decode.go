package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// Format is a document serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatForPath picks a format from a file extension. Unknown extensions are JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses data into a document tree of map[string]any, []any and scalars.
func Decode(data []byte, format Format) (any, error) {
	var out any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
		return normalize(out), nil
	case FormatJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// DecodeCollection decodes data and returns a top-level array as a collection,
// or any other value as a single-document collection.
func DecodeCollection(data []byte, format Format) ([]any, error) {
	v, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if arr, ok := v.([]any); ok {
		return arr, nil
	}
	return []any{v}, nil
}

// Encode serializes a document tree.
func Encode(v any, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// normalize rewrites map[any]any produced by yaml for non-string keys.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
