package models

import "time"

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// CardType identifies the structured card payloads the UI renders.
type CardType string

const (
	CardMatchProposal CardType = "match_proposal"
	CardUploadRequest CardType = "upload_request"
	CardResultSummary CardType = "result_summary"
	CardProgress      CardType = "progress"
)

// SegmentType tags the variant held by a Segment.
type SegmentType string

const (
	SegmentText SegmentType = "text"
	SegmentCard SegmentType = "card"
)

// Segment is one unit of a chat message: prose text or a structured card.
type Segment struct {
	Type SegmentType `json:"type"`
	Text string      `json:"text,omitempty"`
	Card *Card       `json:"card,omitempty"`
}

// Card is a structured, actionable message payload.
type Card struct {
	CardType CardType       `json:"card_type"`
	CardID   string         `json:"card_id"`
	Data     map[string]any `json:"data"`
}

// NewTextSegment builds a prose segment.
func NewTextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// NewCardSegment builds a card segment.
func NewCardSegment(cardType CardType, cardID string, data map[string]any) Segment {
	return Segment{Type: SegmentCard, Card: &Card{CardType: cardType, CardID: cardID, Data: data}}
}

// FileAttachment references a file the user attached to a turn.
type FileAttachment struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size,omitempty"`
}

// ChatMessage is one turn entry in a session's conversation record.
// Messages are append-only and never mutated once stored.
type ChatMessage struct {
	Role      MessageRole      `json:"role"`
	Segments  []Segment        `json:"segments"`
	Timestamp time.Time        `json:"timestamp"`
	Files     []FileAttachment `json:"files,omitempty"`
}

// Clone returns a copy that shares no mutable slices with the original.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	out.Segments = make([]Segment, len(m.Segments))
	for i, seg := range m.Segments {
		out.Segments[i] = seg
		if seg.Card != nil {
			card := *seg.Card
			if seg.Card.Data != nil {
				card.Data = make(map[string]any, len(seg.Card.Data))
				for k, v := range seg.Card.Data {
					card.Data[k] = v
				}
			}
			out.Segments[i].Card = &card
		}
	}
	out.Files = append([]FileAttachment(nil), m.Files...)
	return out
}

// CardResponse is a user's reply to a structured card.
type CardResponse struct {
	CardID string `json:"card_id"`
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}
