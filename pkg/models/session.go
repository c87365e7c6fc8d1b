package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus indicates whether a session is healthy or has hit a turn-level failure.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusError  SessionStatus = "error"
)

// Phase is a named stage in the reconciliation conversation's lifecycle.
// Phases are strictly ordered and a session's phase never moves backward.
type Phase string

const (
	PhaseGreeting      Phase = "greeting"
	PhaseIntent        Phase = "intent"
	PhaseScoping       Phase = "scoping"
	PhaseDemonstration Phase = "demonstration"
	PhaseInference     Phase = "inference"
	PhaseValidation    Phase = "validation"
	PhaseExecution     Phase = "execution"
)

var phaseOrder = []Phase{
	PhaseGreeting,
	PhaseIntent,
	PhaseScoping,
	PhaseDemonstration,
	PhaseInference,
	PhaseValidation,
	PhaseExecution,
}

// Index returns the position of the phase in the lifecycle, or -1 for an
// unknown phase.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// IsValid reports whether p is one of the known lifecycle phases.
func (p Phase) IsValid() bool {
	return p.Index() >= 0
}

// EvidencePair is a user-confirmed example of a left-record/right-record
// match, used to ground rule inference.
type EvidencePair struct {
	Left  map[string]string `json:"left"`
	Right map[string]string `json:"right"`
}

// Session is the aggregate holding one reconciliation conversation.
// Mutated exclusively through the session store's atomic update; readers
// only ever see full snapshots.
type Session struct {
	ID                 uuid.UUID      `json:"id"`
	Status             SessionStatus  `json:"status"`
	Phase              Phase          `json:"phase"`
	LeftSourceAlias    string         `json:"left_source_alias,omitempty"`
	RightSourceAlias   string         `json:"right_source_alias,omitempty"`
	SchemaLeft         []ColumnInfo   `json:"schema_left,omitempty"`
	SchemaRight        []ColumnInfo   `json:"schema_right,omitempty"`
	SampleLeft         [][]string     `json:"sample_left,omitempty"`
	SampleRight        [][]string     `json:"sample_right,omitempty"`
	FieldMappings      []FieldMapping `json:"field_mappings,omitempty"`
	ConfirmedPairs     []EvidencePair `json:"confirmed_pairs"`
	RecipeDraft        *RecipeDraft   `json:"recipe_draft,omitempty"`
	ValidationApproved bool           `json:"validation_approved"`
	Messages           []ChatMessage  `json:"messages"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the session so callers never share mutable
// state with the store's committed aggregate.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.SchemaLeft = append([]ColumnInfo(nil), s.SchemaLeft...)
	out.SchemaRight = append([]ColumnInfo(nil), s.SchemaRight...)
	out.SampleLeft = cloneRows(s.SampleLeft)
	out.SampleRight = cloneRows(s.SampleRight)
	out.FieldMappings = append([]FieldMapping(nil), s.FieldMappings...)
	out.ConfirmedPairs = make([]EvidencePair, len(s.ConfirmedPairs))
	for i, pair := range s.ConfirmedPairs {
		out.ConfirmedPairs[i] = EvidencePair{
			Left:  cloneStringMap(pair.Left),
			Right: cloneStringMap(pair.Right),
		}
	}
	if s.RecipeDraft != nil {
		draft := *s.RecipeDraft
		draft.PrimaryKeys = cloneStringMap(s.RecipeDraft.PrimaryKeys)
		out.RecipeDraft = &draft
	}
	out.Messages = make([]ChatMessage, len(s.Messages))
	for i, msg := range s.Messages {
		out.Messages[i] = msg.Clone()
	}
	return &out
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
