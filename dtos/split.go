// Package dtos holds the JSON shapes of feature-flag and segment definitions
// as served by the control plane and carried inline in streaming updates.
package dtos

// Feature flag statuses.
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// MatcherTypeInSegment is the matcher that references a user-defined segment.
const MatcherTypeInSegment = "IN_SEGMENT"

// SplitDTO is a feature flag definition.
type SplitDTO struct {
	ChangeNumber          int64             `json:"changeNumber"`
	TrafficTypeName       string            `json:"trafficTypeName"`
	Name                  string            `json:"name"`
	TrafficAllocation     int               `json:"trafficAllocation"`
	TrafficAllocationSeed int64             `json:"trafficAllocationSeed"`
	Seed                  int64             `json:"seed"`
	Status                string            `json:"status"`
	Killed                bool              `json:"killed"`
	DefaultTreatment      string            `json:"defaultTreatment"`
	Algo                  int               `json:"algo"`
	Conditions            []ConditionDTO    `json:"conditions"`
	Configurations        map[string]string `json:"configurations,omitempty"`
	Sets                  []string          `json:"sets,omitempty"`
}

// ConditionDTO is a targeting condition.
type ConditionDTO struct {
	ConditionType string          `json:"conditionType"`
	MatcherGroup  MatcherGroupDTO `json:"matcherGroup"`
	Partitions    []PartitionDTO  `json:"partitions"`
	Label         string          `json:"label"`
}

// MatcherGroupDTO combines matchers.
type MatcherGroupDTO struct {
	Combiner string       `json:"combiner"`
	Matchers []MatcherDTO `json:"matchers"`
}

// MatcherDTO is a single matcher; only the fields this module reads are typed.
type MatcherDTO struct {
	KeySelector        *KeySelectorDTO                   `json:"keySelector,omitempty"`
	MatcherType        string                            `json:"matcherType"`
	Negate             bool                              `json:"negate"`
	UserDefinedSegment *UserDefinedSegmentMatcherDataDTO `json:"userDefinedSegmentMatcherData,omitempty"`
}

// KeySelectorDTO selects the attribute a matcher runs against.
type KeySelectorDTO struct {
	TrafficType string  `json:"trafficType"`
	Attribute   *string `json:"attribute"`
}

// UserDefinedSegmentMatcherDataDTO references a segment by name.
type UserDefinedSegmentMatcherDataDTO struct {
	SegmentName string `json:"segmentName"`
}

// PartitionDTO assigns a share of traffic to a treatment.
type PartitionDTO struct {
	Treatment string `json:"treatment"`
	Size      int    `json:"size"`
}

// SegmentNames returns the distinct segment names referenced by the flag's
// conditions, in order of first appearance.
func (s *SplitDTO) SegmentNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, cond := range s.Conditions {
		for _, m := range cond.MatcherGroup.Matchers {
			if m.MatcherType != MatcherTypeInSegment || m.UserDefinedSegment == nil {
				continue
			}
			name := m.UserDefinedSegment.SegmentName
			if _, ok := seen[name]; ok || name == "" {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
