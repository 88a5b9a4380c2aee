package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata is the model description shipped next to the weights.
// OptimalThreshold is set when the training run calibrated one.
type Metadata struct {
	OptimalThreshold *float64
	Fields           map[string]interface{}
}

// LoadMetadata reads a metadata JSON object.
func LoadMetadata(path string) (Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	return ParseMetadata(b)
}

// ParseMetadata decodes raw metadata JSON.
func ParseMetadata(b []byte) (Metadata, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	md := Metadata{Fields: fields}
	if v, ok := fields["optimal_threshold"]; ok {
		f, ok := v.(float64)
		if !ok {
			return Metadata{}, fmt.Errorf("metadata: optimal_threshold is %T, want number", v)
		}
		md.OptimalThreshold = &f
	}
	return md, nil
}

// MarshalJSON emits the original object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.Fields)
}
