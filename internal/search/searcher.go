package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/turnkit/turnlog/internal/logging"
	"github.com/turnkit/turnlog/internal/store"
)

var searchLog = logging.ForComponent(logging.CompSearch)

// MessageSource is the slice of the message store the coordinator reads.
// *store.Store satisfies it; tests substitute in-memory fakes.
type MessageSource interface {
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
}

// Result is one search hit. Rank is query-specific and not comparable
// across queries.
type Result struct {
	MessageID       string    `json:"message_id"`
	SessionID       string    `json:"session_id"`
	SessionName     string    `json:"session_name"`
	Role            string    `json:"role"`
	Snippet         string    `json:"snippet"`
	ThinkingSnippet string    `json:"thinking_snippet,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	Rank            float64   `json:"rank"`
}

// Response is a page of results plus the filtered candidate count before
// pagination.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
}

// Options filter and page a search.
type Options struct {
	SessionID       string
	Role            string
	Limit           int
	Offset          int
	IncludeThinking bool
}

// Searcher orchestrates normalizer, index lookup, ranking, snippet
// extraction, and pagination for a single request. Pure read path.
type Searcher struct {
	index   *Index
	source  MessageSource
	weights Weights
	bounds  SnippetBounds
}

// NewSearcher wires a searcher over an index and a message source.
func NewSearcher(index *Index, source MessageSource, weights Weights, bounds SnippetBounds) *Searcher {
	return &Searcher{index: index, source: source, weights: weights, bounds: bounds}
}

// Search runs a query. A query that normalizes to zero stems returns an
// empty response, not an error. An unknown session id filter likewise
// yields empty results: an unmatched id joins to nothing, mirroring how a
// database-side filter would behave.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, &store.ValidationError{Field: "pagination", Reason: "limit and offset must be non-negative"}
	}
	if opts.Role != "" && !store.ValidRole(opts.Role) {
		return nil, &store.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", opts.Role)}
	}

	startedAt := time.Now()
	resp := &Response{Results: []Result{}}
	stems := AnalyzeQuery(query)
	if len(stems) == 0 {
		return resp, nil
	}

	candidates := s.index.Candidates(stems)
	if len(candidates) == 0 {
		return resp, nil
	}

	messages := make(map[string]*store.Message, len(candidates))
	rankedDocs := make([]ranked, 0, len(candidates))
	for docID, match := range candidates {
		msg, err := s.source.GetMessage(ctx, docID)
		if err != nil {
			if store.IsNotFound(err) {
				// The index referenced a document the store no longer has.
				return nil, &store.ConsistencyError{
					Detail: fmt.Sprintf("indexed document %s missing from message store", docID),
					Err:    err,
				}
			}
			return nil, err
		}
		if opts.SessionID != "" && msg.SessionID != opts.SessionID {
			continue
		}
		if opts.Role != "" && msg.Role != opts.Role {
			continue
		}
		messages[docID] = msg
		rankedDocs = append(rankedDocs, ranked{
			match:     match,
			score:     s.weights.Score(match),
			createdAt: msg.CreatedAt,
		})
	}

	sortRanked(rankedDocs)
	resp.Total = len(rankedDocs)

	page := paginate(rankedDocs, opts.Limit, opts.Offset)
	sessionNames := make(map[string]string)
	for _, r := range page {
		msg := messages[r.match.DocID]
		name, ok := sessionNames[msg.SessionID]
		if !ok {
			sess, err := s.source.GetSession(ctx, msg.SessionID)
			if err != nil {
				if store.IsNotFound(err) {
					return nil, &store.ConsistencyError{
						Detail: fmt.Sprintf("message %s references missing session %s", msg.ID, msg.SessionID),
						Err:    err,
					}
				}
				return nil, err
			}
			name = sess.Name
			sessionNames[msg.SessionID] = name
		}

		result := Result{
			MessageID:   msg.ID,
			SessionID:   msg.SessionID,
			SessionName: name,
			Role:        msg.Role,
			Snippet:     s.bounds.Extract(msg.Content, r.match.ContentPositions),
			CreatedAt:   msg.CreatedAt,
			Rank:        r.score,
		}
		if opts.IncludeThinking && msg.Thinking != "" {
			result.ThinkingSnippet = s.bounds.Extract(msg.Thinking, r.match.ThinkingPositions)
		}
		resp.Results = append(resp.Results, result)
	}

	searchLog.Debug("search",
		slog.Int("stems", len(stems)),
		slog.Int("candidates", len(candidates)),
		slog.Int("total", resp.Total),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
	return resp, nil
}

// paginate slices [offset, offset+limit). A zero limit means no cap.
func paginate(rs []ranked, limit, offset int) []ranked {
	if offset >= len(rs) {
		return nil
	}
	rs = rs[offset:]
	if limit > 0 && limit < len(rs) {
		rs = rs[:limit]
	}
	return rs
}
