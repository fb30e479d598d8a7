package proctor

// ─── Events (Feed → Client) ─────────────────────────────────────────

type Event string

const (
	EventVisibilityHidden  Event = "visibility_hidden"
	EventVisibilityVisible Event = "visibility_visible"
	EventFocusLost         Event = "focus_lost"
	EventPong              Event = "pong"
)

// EventEnvelope is used to peek at the event before full parsing.
type EventEnvelope struct {
	Event Event `json:"event"`
}

// VisibilityMessage carries one page-visibility transition observed by the
// proctoring agent for a student's attempt.
type VisibilityMessage struct {
	Event     Event  `json:"event"`
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
	At        int64  `json:"at"`
}

// ─── Actions (Client → Feed) ────────────────────────────────────────

type Action string

const (
	ActionSubscribe Action = "subscribe"
	ActionPing      Action = "ping"
)

// SubscribeRequest registers interest in one attempt's visibility stream.
type SubscribeRequest struct {
	Action    Action `json:"action"`
	ExamID    string `json:"exam_id"`
	StudentID int    `json:"student_id"`
}

// PingRequest keeps the feed connection alive.
type PingRequest struct {
	Action Action `json:"action"`
}
