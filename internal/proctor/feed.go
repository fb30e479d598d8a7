package proctor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/evalhub/examsession/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 5 * time.Minute
	pingInterval = 30 * time.Second
)

// Feed streams proctoring visibility events for one attempt from an external
// agent over a WebSocket and forwards them into the session's integrity
// monitor. A shell that observes visibility locally does not need a feed.
type Feed struct {
	url       string
	examID    uuid.UUID
	studentID int
	report    func(session.VisibilityEvent)
	log       zerolog.Logger
}

// NewFeed builds a feed that forwards incoming transitions to report.
func NewFeed(url string, examID uuid.UUID, studentID int, report func(session.VisibilityEvent), log zerolog.Logger) *Feed {
	return &Feed{
		url:       url,
		examID:    examID,
		studentID: studentID,
		report:    report,
		log:       log.With().Str("component", "proctor_feed").Logger(),
	}
}

// Run dials the feed, subscribes, and pumps events until ctx is cancelled or
// the connection drops. The caller decides whether a drop is worth a redial.
func (f *Feed) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial proctor feed: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(SubscribeRequest{
		Action:    ActionSubscribe,
		ExamID:    f.examID.String(),
		StudentID: f.studentID,
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info().Str("url", f.url).Msg("Proctor feed connected")

	go f.keepAlive(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg VisibilityMessage
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read proctor feed: %w", err)
		}

		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(msg VisibilityMessage) {
	var ev session.VisibilityEvent
	switch msg.Event {
	case EventVisibilityHidden:
		ev = session.EventHidden
	case EventVisibilityVisible:
		ev = session.EventVisible
	case EventFocusLost:
		ev = session.EventFocusLost
	case EventPong:
		return
	default:
		f.log.Warn().Str("event", string(msg.Event)).Msg("Unknown proctor event")
		return
	}

	f.log.Debug().Str("event", string(msg.Event)).Msg("Proctor event received")
	f.report(ev)
}

func (f *Feed) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(PingRequest{Action: ActionPing}); err != nil {
				f.log.Warn().Err(err).Msg("Proctor feed ping failed")
				return
			}
		}
	}
}
