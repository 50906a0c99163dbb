package analysis

import (
	"encoding/json"
	"fmt"
)

// Metadata is the analyzer's JSON output. It is kept as a generic map so
// fields the analyzer adds in the future survive the enrichment round trip.
type Metadata map[string]any

// ParseMetadata decodes the analyzer's metadata file.
func ParseMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta == nil {
		meta = Metadata{}
	}
	return meta, nil
}

// ResolveCount extracts the vehicle count. The analyzer is inconsistent about
// which field it emits, so the fallback order matters: an explicit count
// field wins, otherwise the per-class breakdown is summed, otherwise the
// count stays unknown (nil).
func (m Metadata) ResolveCount() *int64 {
	if v, ok := m["count"]; ok {
		if f, ok := v.(float64); ok {
			n := int64(f)
			return &n
		}
	}
	if v, ok := m["by_class"]; ok {
		if byClass, ok := v.(map[string]any); ok {
			var sum int64
			counted := false
			for _, cv := range byClass {
				if f, ok := cv.(float64); ok {
					sum += int64(f)
					counted = true
				}
			}
			if counted {
				return &sum
			}
		}
	}
	return nil
}

// Enrich stamps the canonical job references onto the metadata before the
// final artifact write: the job id, the input video location, and the frame
// image locations.
func (m Metadata) Enrich(jobID, videoLocation string, imageLocations []string) {
	if imageLocations == nil {
		imageLocations = []string{}
	}
	m["jobId"] = jobID
	m["video"] = videoLocation
	m["images"] = imageLocations
}

// ImageLocations returns the enriched frame references, or nil when absent.
func (m Metadata) ImageLocations() []string {
	raw, ok := m["images"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Encode serializes the metadata artifact for storage.
func (m Metadata) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}
