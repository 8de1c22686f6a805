// Package service wires the store, search index, searcher, and analytics
// aggregator into one injectable unit consumed by the CLI, HTTP transport,
// and ingest pipeline.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/turnkit/turnlog/internal/analytics"
	"github.com/turnkit/turnlog/internal/logging"
	"github.com/turnkit/turnlog/internal/search"
	"github.com/turnkit/turnlog/internal/store"
)

var svcLog = logging.ForComponent(logging.CompService)

// CaptureEvent is broadcast to subscribers after a message is captured.
type CaptureEvent struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Service owns the index and coordinates it with the store. The index is
// process-local state rebuilt from the store at startup; the store is the
// durable copy.
type Service struct {
	Store     *store.Store
	Index     *search.Index
	Searcher  *search.Searcher
	Analytics *analytics.Aggregator

	subMu       sync.Mutex
	subscribers map[chan CaptureEvent]struct{}
}

// New assembles a service over an opened store.
func New(st *store.Store, weights search.Weights, bounds search.SnippetBounds) *Service {
	idx := search.NewIndex()
	return &Service{
		Store:       st,
		Index:       idx,
		Searcher:    search.NewSearcher(idx, st, weights, bounds),
		Analytics:   analytics.New(st),
		subscribers: make(map[chan CaptureEvent]struct{}),
	}
}

// Rebuild repopulates the index from every stored message. Called once at
// startup before the service accepts requests.
func (s *Service) Rebuild(ctx context.Context) error {
	startedAt := time.Now()
	count := 0
	err := s.Store.ForEachMessage(ctx, func(msg *store.Message) error {
		s.indexMessage(msg)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	svcLog.Info("index_rebuilt",
		slog.Int("messages", count),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
	return nil
}

// Capture normalizes, stores, and indexes one turn. The store insert
// commits first; the in-memory index write cannot fail, so a failed insert
// leaves the index untouched and a returned message is always fully
// indexed. A search by the same caller after Capture returns sees the new
// message.
func (s *Service) Capture(ctx context.Context, in *store.CaptureInput) (*store.Message, error) {
	msg := in.Normalize()
	if err := s.Store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.indexMessage(msg)

	s.notify(CaptureEvent{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		CreatedAt: msg.CreatedAt,
	})
	return msg, nil
}

// DeleteSession cascades a session delete through the store and purges
// every owned document from the index.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	messageIDs, err := s.Store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, id := range messageIDs {
		s.Index.Remove(id)
	}
	svcLog.Info("session_deleted",
		slog.String("session_id", sessionID),
		slog.Int("messages", len(messageIDs)),
	)
	return nil
}

// Search is the transport-facing read path.
func (s *Service) Search(ctx context.Context, query string, opts search.Options) (*search.Response, error) {
	return s.Searcher.Search(ctx, query, opts)
}

// Subscribe registers a capture-event listener. The returned cancel func
// unregisters it and closes the channel. Slow subscribers drop events
// rather than block capture.
func (s *Service) Subscribe() (<-chan CaptureEvent, func()) {
	ch := make(chan CaptureEvent, 16)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) notify(ev CaptureEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) indexMessage(msg *store.Message) {
	s.Index.Add(msg.ID, search.FieldContent, msg.Content)
	if msg.Thinking != "" {
		s.Index.Add(msg.ID, search.FieldThinking, msg.Thinking)
	}
}
