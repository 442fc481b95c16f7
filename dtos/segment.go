package dtos

// SegmentDTO is a segment snapshot: its member keys and the change number
// they correspond to.
type SegmentDTO struct {
	Name         string   `json:"name"`
	Keys         []string `json:"keys"`
	ChangeNumber int64    `json:"till"`
}
