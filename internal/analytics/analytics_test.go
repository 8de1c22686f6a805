package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnlog/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "turnlog.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedSession(t *testing.T, st *store.Store, id string) {
	t.Helper()
	require.NoError(t, st.CreateSession(context.Background(), &store.Session{ID: id, Name: id}))
}

func seedMessage(t *testing.T, st *store.Store, msg *store.Message) {
	t.Helper()
	if msg.Role == "" {
		msg.Role = store.RoleAssistant
	}
	if msg.Content == "" {
		msg.Content = "content"
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, st.InsertMessage(context.Background(), msg))
}

func TestOverall_AvgThinkingExcludesZeroMessages(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "s1")

	// Five messages, only two carry thinking tokens (100 and 300).
	seedMessage(t, st, &store.Message{ID: "m1", SessionID: "s1", ThinkingTokens: 100, InputTokens: 10})
	seedMessage(t, st, &store.Message{ID: "m2", SessionID: "s1", ThinkingTokens: 300, OutputTokens: 20})
	seedMessage(t, st, &store.Message{ID: "m3", SessionID: "s1"})
	seedMessage(t, st, &store.Message{ID: "m4", SessionID: "s1"})
	seedMessage(t, st, &store.Message{ID: "m5", SessionID: "s1"})

	stats, err := agg.Overall(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 5, stats.TotalMessages)
	assert.Equal(t, int64(400), stats.TotalThinkingTokens)
	assert.Equal(t, int64(10), stats.TotalInputTokens)
	assert.Equal(t, int64(20), stats.TotalOutputTokens)
	// 400 / 2, not 400 / 5.
	assert.InDelta(t, 200.0, stats.AvgThinkingTokensPerMessage, 0.001)
}

func TestOverall_EmptyCorpus(t *testing.T) {
	agg, _ := newTestAggregator(t)

	stats, err := agg.Overall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalMessages)
	assert.Zero(t, stats.AvgThinkingTokensPerMessage)
}

func TestDaily_SparseWindow(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "s1")

	// All activity 10 days ago: a 7-day window must come back empty,
	// not zero-filled.
	tenDaysAgo := time.Now().UTC().AddDate(0, 0, -10)
	seedMessage(t, st, &store.Message{ID: "m1", SessionID: "s1", CreatedAt: tenDaysAgo})

	days, err := agg.Daily(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, days)

	wider, err := agg.Daily(context.Background(), 14)
	require.NoError(t, err)
	require.Len(t, wider, 1)
	assert.Equal(t, tenDaysAgo.Format("2006-01-02"), wider[0].Day)
}

func TestDaily_NewestFirstWithCounts(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "s1")
	seedSession(t, st, "s2")

	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	seedMessage(t, st, &store.Message{ID: "m1", SessionID: "s1", CreatedAt: now, InputTokens: 5})
	seedMessage(t, st, &store.Message{ID: "m2", SessionID: "s2", CreatedAt: now, InputTokens: 7})
	seedMessage(t, st, &store.Message{ID: "m3", SessionID: "s1", CreatedAt: yesterday})

	days, err := agg.Daily(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, now.Format("2006-01-02"), days[0].Day)
	assert.Equal(t, 2, days[0].ActiveSessions)
	assert.Equal(t, 2, days[0].MessageCount)
	assert.Equal(t, int64(12), days[0].InputTokens)

	assert.Equal(t, yesterday.Format("2006-01-02"), days[1].Day)
	assert.Equal(t, 1, days[1].ActiveSessions)
}

func TestDaily_NegativeWindowRejected(t *testing.T) {
	agg, _ := newTestAggregator(t)
	_, err := agg.Daily(context.Background(), -1)
	assert.True(t, store.IsValidation(err))
}

func TestToolUsage_GroupsByName(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "s1")

	d100, d200 := int64(100), int64(200)
	seedMessage(t, st, &store.Message{
		ID: "m1", SessionID: "s1",
		ToolCalls: []store.ToolCall{
			{ID: "t1", Name: "bash", DurationMS: &d100},
			{ID: "t2", Name: "bash", DurationMS: &d200},
		},
	})
	seedMessage(t, st, &store.Message{
		ID: "m2", SessionID: "s1",
		ToolCalls: []store.ToolCall{
			{ID: "t3", Name: "bash", Error: "command failed"},
			{ID: "t4", Name: "read_file", DurationMS: &d100},
			{ID: "t5", Name: ""}, // unnamed: dropped, no "unknown" bucket
		},
	})

	stats, err := agg.ToolUsage(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)

	bash := stats[0]
	assert.Equal(t, "bash", bash.ToolName)
	assert.Equal(t, 3, bash.CallCount)
	// Average over the two calls carrying a duration.
	assert.InDelta(t, 150.0, bash.AvgDurationMS, 0.001)
	assert.Equal(t, 1, bash.ErrorCount)

	assert.Equal(t, "read_file", stats[1].ToolName)
	assert.Equal(t, 1, stats[1].CallCount)
}

func TestToolUsage_EmptyCorpus(t *testing.T) {
	agg, _ := newTestAggregator(t)
	stats, err := agg.ToolUsage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestSessionStats(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "s1")

	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	seedMessage(t, st, &store.Message{
		ID: "m1", SessionID: "s1", CreatedAt: start,
		InputTokens: 100, ThinkingTokens: 50,
		ToolCalls: []store.ToolCall{{ID: "t1", Name: "bash"}},
	})
	seedMessage(t, st, &store.Message{
		ID: "m2", SessionID: "s1", CreatedAt: start.Add(45 * time.Minute),
		OutputTokens: 30,
		ToolCalls:    []store.ToolCall{{ID: "t2", Name: "bash"}, {ID: "t3", Name: "grep"}},
	})

	stats, err := agg.Session(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, int64(50), stats.ThinkingTokens)
	assert.Equal(t, int64(100), stats.InputTokens)
	assert.Equal(t, int64(30), stats.OutputTokens)
	assert.Equal(t, 3, stats.ToolCallCount)
	assert.InDelta(t, 45.0, stats.DurationMinutes, 0.001)
}

func TestSessionStats_EmptySessionNotFound(t *testing.T) {
	agg, st := newTestAggregator(t)
	seedSession(t, st, "empty")

	_, err := agg.Session(context.Background(), "empty")
	assert.True(t, store.IsNotFound(err))

	_, err = agg.Session(context.Background(), "never-existed")
	assert.True(t, store.IsNotFound(err))
}
