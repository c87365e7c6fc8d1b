package models

// InferredRule is a candidate matching rule proposed by rule inference,
// expressed as a query-language predicate over the two source aliases.
type InferredRule struct {
	Name        string              `json:"name" validate:"required"`
	SQL         string              `json:"sql" validate:"required"`
	Description string              `json:"description"`
	Confidence  float64             `json:"confidence" validate:"gte=0,lte=1"`
	Evidence    []map[string]string `json:"evidence,omitempty"`
}

// RecipeDraft is the assembled match query and its user-facing explanation.
// PrimaryKeys maps each source alias to its inferred primary key column and
// travels with the draft so worker dispatch can carry it.
type RecipeDraft struct {
	MatchSQL    string            `json:"match_sql" validate:"required"`
	Explanation string            `json:"explanation"`
	PrimaryKeys map[string]string `json:"primary_keys,omitempty"`
}
