package models

// FieldMapping is a proposed column-level correspondence between the two
// sources, produced by mapping detection and reused as context by later
// tools.
type FieldMapping struct {
	FieldA     string  `json:"field_a" validate:"required"`
	FieldB     string  `json:"field_b" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string  `json:"reason"`
}
