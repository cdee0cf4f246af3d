// Package filter keeps the detections worth reporting.
package filter

import (
	"github.com/samber/lo"

	"github.com/dj-oyu/traffic-sign-alert/internal/catalog"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// DefaultThreshold is the minimum confidence (exclusive) for a detection to be reported
const DefaultThreshold = 80.0

// Reportable is a detection with a known class and enough confidence
type Reportable struct {
	ClassID    int       `json:"class_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        types.Box `json:"box"`
}

// Apply returns the detections whose class is in the catalog and whose confidence
// is strictly greater than threshold. Input order and duplicates are preserved.
func Apply(dets []types.Detection, cat *catalog.Catalog, threshold float64) []Reportable {
	out := make([]Reportable, 0, len(dets))
	for _, d := range dets {
		label, ok := cat.Lookup(d.ClassID)
		if !ok || d.Confidence <= threshold {
			continue
		}
		out = append(out, Reportable{
			ClassID:    d.ClassID,
			Label:      label,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	return out
}

// Labels returns the distinct labels in first-appearance order
func Labels(rs []Reportable) []string {
	return lo.Uniq(lo.Map(rs, func(r Reportable, _ int) string { return r.Label }))
}
