package domain

import (
	"encoding/json"
	"fmt"
)

// ParentLink ties an escalation mission back to the deal it reviews.
type ParentLink struct {
	ParentDealID    string
	ParentMissionID string
	ReviewType      string
}

// Rejection carries the operator's reason for passing on a deal.
type Rejection struct {
	Reason string
}

// ROISnapshot records the figures a deal was accepted on.
type ROISnapshot struct {
	ROI            float64
	Profit         float64
	EstimatedValue float64
}

// Metadata is the mission metadata bag. Known shapes are typed; anything else
// is kept untouched in Extras so older or newer writers round-trip cleanly.
type Metadata struct {
	Parent    *ParentLink
	Rejection *Rejection
	ROI       *ROISnapshot
	Extras    map[string]json.RawMessage
}

const (
	metaParentDealID    = "parent_deal_id"
	metaParentMissionID = "parent_mission_id"
	metaReviewType      = "review_type"
	metaRejectionReason = "rejection_reason"
	metaROI             = "roi"
	metaProfit          = "profit"
	metaEstimatedValue  = "estimated_value"
)

var knownMetaKeys = map[string]struct{}{
	metaParentDealID: {}, metaParentMissionID: {}, metaReviewType: {},
	metaRejectionReason: {},
	metaROI: {}, metaProfit: {}, metaEstimatedValue: {},
}

// IsZero reports whether nothing is set.
func (m Metadata) IsZero() bool {
	return m.Parent == nil && m.Rejection == nil && m.ROI == nil && len(m.Extras) == 0
}

// Merge overlays the set fields of other onto m.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m
	if other.Parent != nil {
		out.Parent = other.Parent
	}
	if other.Rejection != nil {
		out.Rejection = other.Rejection
	}
	if other.ROI != nil {
		out.ROI = other.ROI
	}
	if len(other.Extras) > 0 {
		merged := make(map[string]json.RawMessage, len(m.Extras)+len(other.Extras))
		for k, v := range m.Extras {
			merged[k] = v
		}
		for k, v := range other.Extras {
			merged[k] = v
		}
		out.Extras = merged
	}
	return out
}

// Map flattens the metadata into the stored JSON object shape.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.Extras)+4)
	for k, v := range m.Extras {
		out[k] = v
	}
	if m.Parent != nil {
		out[metaParentDealID] = m.Parent.ParentDealID
		out[metaParentMissionID] = m.Parent.ParentMissionID
		if m.Parent.ReviewType != "" {
			out[metaReviewType] = m.Parent.ReviewType
		}
	}
	if m.Rejection != nil {
		out[metaRejectionReason] = m.Rejection.Reason
	}
	if m.ROI != nil {
		out[metaROI] = m.ROI.ROI
		out[metaProfit] = m.ROI.Profit
		out[metaEstimatedValue] = m.ROI.EstimatedValue
	}
	return out
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = Metadata{}
	if raw == nil {
		return nil
	}
	str := func(key string) string {
		var s string
		_ = json.Unmarshal(raw[key], &s)
		return s
	}
	num := func(key string) float64 {
		var f float64
		_ = json.Unmarshal(raw[key], &f)
		return f
	}
	if _, ok := raw[metaParentDealID]; ok {
		m.Parent = &ParentLink{
			ParentDealID:    str(metaParentDealID),
			ParentMissionID: str(metaParentMissionID),
			ReviewType:      str(metaReviewType),
		}
	} else if _, ok := raw[metaParentMissionID]; ok {
		m.Parent = &ParentLink{ParentMissionID: str(metaParentMissionID), ReviewType: str(metaReviewType)}
	}
	if _, ok := raw[metaRejectionReason]; ok {
		m.Rejection = &Rejection{Reason: str(metaRejectionReason)}
	}
	if _, ok := raw[metaROI]; ok {
		m.ROI = &ROISnapshot{ROI: num(metaROI), Profit: num(metaProfit), EstimatedValue: num(metaEstimatedValue)}
	}
	for k, v := range raw {
		if _, known := knownMetaKeys[k]; known {
			// review_type without a parent is still preserved.
			if k == metaReviewType && m.Parent == nil {
				m.setExtra(k, v)
			}
			continue
		}
		m.setExtra(k, v)
	}
	return nil
}

func (m *Metadata) setExtra(k string, v json.RawMessage) {
	if m.Extras == nil {
		m.Extras = map[string]json.RawMessage{}
	}
	m.Extras[k] = v
}

// MetadataFromMap converts a free-form object (API input) into Metadata.
func MetadataFromMap(in map[string]any) (Metadata, error) {
	if len(in) == 0 {
		return Metadata{}, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
