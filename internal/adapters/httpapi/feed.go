package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Frame is one snapshot pushed to a feed client. Items is always the full
// current result set of the subscribed query.
type Frame[T any] struct {
	Collection domain.Collection `json:"collection"`
	SessionID  domain.SessionID  `json:"sessionId,omitempty"`
	Items      []T               `json:"items"`
	Stale      bool              `json:"stale,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// handleFeed streams snapshots of one collection. Without a session
// parameter the sessions feed follows the active session.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	collection := domain.Collection(r.PathValue("collection"))
	if !collection.Valid() {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown collection "+string(collection))
		return
	}

	sessionID := domain.SessionID(r.URL.Query().Get("session"))
	if sessionID == "" && collection != domain.CollectionSessions {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_request", "session query parameter is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	logger := s.logger.With("collection", collection, "session", sessionID)
	logger.Info("feed subscribed")
	defer logger.Info("feed closed")

	switch collection {
	case domain.CollectionSessions:
		var sub *feed.Subscription[domain.Session]
		if sessionID == "" {
			sub = s.notifier.ActiveSession(ctx)
		} else {
			sub = s.notifier.Session(ctx, sessionID)
		}
		err = stream(ctx, conn, collection, sessionID, sub, s.ping)
	case domain.CollectionParticipants:
		err = stream(ctx, conn, collection, sessionID, s.notifier.Participants(ctx, sessionID), s.ping)
	case domain.CollectionGroups:
		err = stream(ctx, conn, collection, sessionID, s.notifier.Groups(ctx, sessionID), s.ping)
	case domain.CollectionDecisions:
		err = stream(ctx, conn, collection, sessionID, s.notifier.Decisions(ctx, sessionID), s.ping)
	}
	if err != nil && ctx.Err() == nil {
		logger.Debug("feed write failed", "error", err)
	}
}

// discardReads consumes client frames so control messages are processed, and
// cancels the stream once the client goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func stream[T any](ctx context.Context, conn *websocket.Conn, collection domain.Collection, sessionID domain.SessionID, sub *feed.Subscription[T], ping time.Duration) error {
	defer sub.Close()

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return writeClose(conn, websocket.CloseGoingAway, "shutting down")
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case snapshot, ok := <-sub.C():
			if !ok {
				return writeClose(conn, websocket.CloseGoingAway, "feed closed")
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteJSON(toFrame(collection, sessionID, snapshot)); err != nil {
				return err
			}
		}
	}
}

func toFrame[T any](collection domain.Collection, sessionID domain.SessionID, snapshot feed.Snapshot[T]) Frame[T] {
	frame := Frame[T]{
		Collection: collection,
		SessionID:  sessionID,
		Items:      snapshot.Items,
		Stale:      snapshot.Stale,
	}
	if frame.Items == nil {
		frame.Items = []T{}
	}
	if snapshot.Err != nil {
		frame.Error = snapshot.Err.Error()
	}

	return frame
}

func writeClose(conn *websocket.Conn, code int, reason string) error {
	return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
