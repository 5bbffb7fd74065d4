package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/commitment-engine/internal/allocation"
	"github.com/terra-clan/commitment-engine/internal/metrics"
	"github.com/terra-clan/commitment-engine/internal/models"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FeedMessage is pushed to progress feed subscribers
type FeedMessage struct {
	Type         string                  `json:"type"`
	CommitmentID string                  `json:"commitment_id,omitempty"`
	Day          int                     `json:"day,omitempty"`
	Date         string                  `json:"date,omitempty"`
	Entries      []*models.ProgressEntry `json:"entries,omitempty"`
	Completed    bool                    `json:"completed,omitempty"`
	Remaining    int                     `json:"remaining,omitempty"`
	Data         string                  `json:"data,omitempty"`
}

type subscriber struct {
	send chan []byte
}

// Feed fans committed allocations out to WebSocket subscribers of the same commitment
type Feed struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewFeed creates an empty feed
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[*subscriber]struct{})}
}

func (f *Feed) subscribe(commitmentID string) *subscriber {
	sub := &subscriber{send: make(chan []byte, feedBuffer)}

	f.mu.Lock()
	if f.subs[commitmentID] == nil {
		f.subs[commitmentID] = make(map[*subscriber]struct{})
	}
	f.subs[commitmentID][sub] = struct{}{}
	f.mu.Unlock()

	metrics.FeedSubscribers.Inc()
	return sub
}

func (f *Feed) unsubscribe(commitmentID string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.subs[commitmentID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(f.subs, commitmentID)
	}
	close(sub.send)
	metrics.FeedSubscribers.Dec()
}

// Subscribers returns the number of open subscriptions for a commitment
func (f *Feed) Subscribers(commitmentID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[commitmentID])
}

// Publish sends a progress message to every subscriber of the completion's commitment.
// Subscribers whose buffer is full are skipped.
func (f *Feed) Publish(c *allocation.Completion) {
	data, err := json.Marshal(FeedMessage{
		Type:         "progress",
		CommitmentID: c.CommitmentID,
		Day:          c.Day,
		Date:         c.Date,
		Entries:      c.Entries,
		Completed:    c.Completed,
		Remaining:    c.Remaining,
	})
	if err != nil {
		slog.Error("failed to marshal feed message", "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subs[c.CommitmentID] {
		select {
		case sub.send <- data:
		default:
			slog.Warn("progress feed subscriber lagging, dropping message", "commitment_id", c.CommitmentID)
		}
	}
}

func (s *Server) handleProgressEvents(w http.ResponseWriter, r *http.Request) {
	commitmentID := chi.URLParam(r, "id")

	if _, err := s.manager.GetCommitment(r.Context(), commitmentID); err != nil {
		respondServiceError(w, err, "open progress feed", "id", commitmentID)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := s.feed.subscribe(commitmentID)
	defer s.feed.unsubscribe(commitmentID, sub)

	slog.Info("progress feed connected", "commitment_id", commitmentID)

	if err := sendFeedMessage(conn, FeedMessage{Type: "connected", CommitmentID: commitmentID}); err != nil {
		return
	}

	// Reader: the client sends nothing useful, but reading drives pong and close handling
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			slog.Info("progress feed disconnected", "commitment_id", commitmentID)
			return
		case data, ok := <-sub.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("failed to send feed message", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendFeedMessage(conn *websocket.Conn, msg FeedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal feed message", "error", err)
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send feed message", "error", err)
		return err
	}
	return nil
}
