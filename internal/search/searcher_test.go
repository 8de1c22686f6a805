package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnlog/internal/store"
)

// fakeSource is an in-memory MessageSource.
type fakeSource struct {
	messages map[string]*store.Message
	sessions map[string]*store.Session
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string]*store.Message),
		sessions: make(map[string]*store.Session),
	}
}

func (f *fakeSource) GetMessage(_ context.Context, id string) (*store.Message, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, &store.NotFoundError{Kind: "message", ID: id}
	}
	return msg, nil
}

func (f *fakeSource) GetSession(_ context.Context, id string) (*store.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, &store.NotFoundError{Kind: "session", ID: id}
	}
	return sess, nil
}

type fixture struct {
	searcher *Searcher
	index    *Index
	source   *fakeSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx := NewIndex()
	src := newFakeSource()
	return &fixture{
		searcher: NewSearcher(idx, src, DefaultWeights(), DefaultSnippetBounds()),
		index:    idx,
		source:   src,
	}
}

func (fx *fixture) addSession(id, name string) {
	fx.source.sessions[id] = &store.Session{ID: id, Name: name, CreatedAt: time.Now()}
}

func (fx *fixture) addMessage(msg *store.Message) {
	fx.source.messages[msg.ID] = msg
	fx.index.Add(msg.ID, FieldContent, msg.Content)
	if msg.Thinking != "" {
		fx.index.Add(msg.ID, FieldThinking, msg.Thinking)
	}
}

func at(offsetSec int) time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(offsetSec) * time.Second)
}

func TestSearch_ContentOutweighsThinking(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "debugging")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content:   "explain recursion",
		CreatedAt: at(0),
	})
	fx.addMessage(&store.Message{
		ID: "m2", SessionID: "s1", Role: store.RoleAssistant,
		Content:   "Recursion is a function calling itself",
		Thinking:  "recursive base case analysis",
		CreatedAt: at(10),
	})

	resp, err := fx.searcher.Search(context.Background(), "recursion", Options{IncludeThinking: true})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Total)

	// The assistant message matches in content (weight 2) and thinking
	// (weight 1, via stemmed "recursive"), so it ranks first.
	assert.Equal(t, "m2", resp.Results[0].MessageID)
	assert.Equal(t, "m1", resp.Results[1].MessageID)
	assert.Greater(t, resp.Results[0].Rank, resp.Results[1].Rank)

	assert.Contains(t, resp.Results[0].Snippet, "<mark>Recursion</mark>")
	assert.Contains(t, resp.Results[0].ThinkingSnippet, "<mark>recursive</mark>")
	assert.Equal(t, "debugging", resp.Results[0].SessionName)
}

func TestSearch_NonMatchingExcluded(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content: "completely unrelated text", Thinking: "also unrelated",
		CreatedAt: at(0),
	})
	fx.addMessage(&store.Message{
		ID: "m2", SessionID: "s1", Role: store.RoleUser,
		Content: "goroutine leak hunting", CreatedAt: at(1),
	})

	resp, err := fx.searcher.Search(context.Background(), "goroutine", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "m2", resp.Results[0].MessageID)
}

func TestSearch_EmptyAfterNormalization(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content: "the and of", CreatedAt: at(0),
	})

	resp, err := fx.searcher.Search(context.Background(), "the of and", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.Empty(t, resp.Results)
}

func TestSearch_TieBreakNewestFirstThenID(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "b", SessionID: "s1", Role: store.RoleUser,
		Content: "docker compose", CreatedAt: at(0),
	})
	fx.addMessage(&store.Message{
		ID: "c", SessionID: "s1", Role: store.RoleUser,
		Content: "docker swarm", CreatedAt: at(5),
	})
	fx.addMessage(&store.Message{
		ID: "a", SessionID: "s1", Role: store.RoleUser,
		Content: "docker build", CreatedAt: at(5),
	})

	resp, err := fx.searcher.Search(context.Background(), "docker", Options{})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Total)

	ids := []string{resp.Results[0].MessageID, resp.Results[1].MessageID, resp.Results[2].MessageID}
	// Equal scores: newest first, then id ascending among equal times.
	assert.Equal(t, []string{"a", "c", "b"}, ids)

	// Stable across repeated calls.
	for i := 0; i < 5; i++ {
		again, err := fx.searcher.Search(context.Background(), "docker", Options{})
		require.NoError(t, err)
		for j, r := range again.Results {
			assert.Equal(t, ids[j], r.MessageID)
		}
	}
}

func TestSearch_TotalIndependentOfPagination(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	for i := 0; i < 7; i++ {
		fx.addMessage(&store.Message{
			ID: string(rune('a' + i)), SessionID: "s1", Role: store.RoleUser,
			Content: "kubernetes pods", CreatedAt: at(i),
		})
	}

	full, err := fx.searcher.Search(context.Background(), "kubernetes", Options{})
	require.NoError(t, err)
	assert.Equal(t, 7, full.Total)

	page, err := fx.searcher.Search(context.Background(), "kubernetes", Options{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Len(t, page.Results, 2)

	past, err := fx.searcher.Search(context.Background(), "kubernetes", Options{Limit: 5, Offset: 100})
	require.NoError(t, err)
	assert.Equal(t, 7, past.Total)
	assert.Empty(t, past.Results)
}

func TestSearch_SessionAndRoleFilters(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "one")
	fx.addSession("s2", "two")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content: "refactor the parser", CreatedAt: at(0),
	})
	fx.addMessage(&store.Message{
		ID: "m2", SessionID: "s2", Role: store.RoleAssistant,
		Content: "parser refactor done", CreatedAt: at(1),
	})

	bySession, err := fx.searcher.Search(context.Background(), "parser", Options{SessionID: "s2"})
	require.NoError(t, err)
	require.Equal(t, 1, bySession.Total)
	assert.Equal(t, "m2", bySession.Results[0].MessageID)

	byRole, err := fx.searcher.Search(context.Background(), "parser", Options{Role: store.RoleUser})
	require.NoError(t, err)
	require.Equal(t, 1, byRole.Total)
	assert.Equal(t, "m1", byRole.Results[0].MessageID)
}

func TestSearch_UnknownSessionFilterYieldsEmpty(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content: "anything at all", CreatedAt: at(0),
	})

	resp, err := fx.searcher.Search(context.Background(), "anything", Options{SessionID: "no-such-session"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.Empty(t, resp.Results)
}

func TestSearch_NegativePaginationRejected(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.searcher.Search(context.Background(), "query", Options{Limit: -1})
	assert.True(t, store.IsValidation(err))

	_, err = fx.searcher.Search(context.Background(), "query", Options{Offset: -3})
	assert.True(t, store.IsValidation(err))
}

func TestSearch_InvalidRoleRejected(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.searcher.Search(context.Background(), "query", Options{Role: "robot"})
	assert.True(t, store.IsValidation(err))
}

func TestSearch_ThinkingSnippetOnlyWhenRequested(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleAssistant,
		Content: "answer about channels", Thinking: "channels thinking here",
		CreatedAt: at(0),
	})

	without, err := fx.searcher.Search(context.Background(), "channels", Options{})
	require.NoError(t, err)
	require.Len(t, without.Results, 1)
	assert.Empty(t, without.Results[0].ThinkingSnippet)

	with, err := fx.searcher.Search(context.Background(), "channels", Options{IncludeThinking: true})
	require.NoError(t, err)
	require.Len(t, with.Results, 1)
	assert.Contains(t, with.Results[0].ThinkingSnippet, "<mark>channels</mark>")
}

func TestSearch_IndexedDocMissingFromStore(t *testing.T) {
	fx := newFixture(t)
	fx.index.Add("ghost", FieldContent, "phantom content")

	_, err := fx.searcher.Search(context.Background(), "phantom", Options{})
	require.Error(t, err)
	var ce *store.ConsistencyError
	assert.ErrorAs(t, err, &ce)
}

func TestSearch_RemovedDocNoLongerReturned(t *testing.T) {
	fx := newFixture(t)
	fx.addSession("s1", "s")
	fx.addMessage(&store.Message{
		ID: "m1", SessionID: "s1", Role: store.RoleUser,
		Content: "ephemeral message", CreatedAt: at(0),
	})

	fx.index.Remove("m1")
	delete(fx.source.messages, "m1")

	resp, err := fx.searcher.Search(context.Background(), "ephemeral", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
}
