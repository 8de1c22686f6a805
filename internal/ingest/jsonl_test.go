package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnlog/internal/search"
	"github.com/turnkit/turnlog/internal/service"
	"github.com/turnkit/turnlog/internal/store"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "turnlog.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return service.New(st, search.DefaultWeights(), search.SnippetBounds{
		Min: search.DefaultSnippetMin,
		Max: search.DefaultSnippetMax,
	})
}

func writeTranscript(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := ""
	for _, line := range lines {
		data += line + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestImportFile(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	path := writeTranscript(t, dir, "abc123.jsonl",
		`{"uuid":"u1","sessionId":"abc123","type":"user","timestamp":"2025-06-01T10:00:00Z","cwd":"/home/dev/proj","message":{"role":"user","content":"fix the flaky retry test"}}`,
		`{"uuid":"u2","sessionId":"abc123","type":"assistant","timestamp":"2025-06-01T10:00:05Z","message":{"role":"assistant","model":"m-1","content":[{"type":"thinking","thinking":"the retry loop never resets backoff"},{"type":"text","text":"The backoff state leaks between attempts."},{"type":"tool_use","id":"t1","name":"bash","input":{"command":"go test ./..."}}],"usage":{"input_tokens":120,"output_tokens":40}}}`,
		`{"type":"summary","summary":"n/a"}`,
		`not json at all`,
	)

	res, err := ImportFile(context.Background(), svc, path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.SessionID)
	assert.Equal(t, 2, res.Captured)
	assert.Equal(t, 2, res.Skipped)

	sess, err := svc.Store.GetSession(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/proj", sess.ProjectPath)

	msg, err := svc.Store.GetMessage(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAssistant, msg.Role)
	assert.Equal(t, "The backoff state leaks between attempts.", msg.Content)
	assert.Equal(t, "the retry loop never resets backoff", msg.Thinking)
	assert.Equal(t, 120, msg.InputTokens)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "bash", msg.ToolCalls[0].Name)

	// Imported turns are searchable right away.
	resp, err := svc.Search(context.Background(), "backoff", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
}

func TestImportFileIdempotent(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	path := writeTranscript(t, dir, "s1.jsonl",
		`{"uuid":"u1","sessionId":"s1","type":"user","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"hello"}}`,
	)

	first, err := ImportFile(context.Background(), svc, path)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Captured)

	second, err := ImportFile(context.Background(), svc, path)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Captured)
	assert.Equal(t, 1, second.Skipped)

	_, total, err := svc.Store.ListBySession(context.Background(), "s1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestImportFileSessionIDFromFilename(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	// No sessionId on the record: the filename stem names the session.
	path := writeTranscript(t, dir, "2025-06-01-feature.jsonl",
		`{"uuid":"u1","type":"user","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"hi"}}`,
	)

	res, err := ImportFile(context.Background(), svc, path)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01-feature", res.SessionID)

	ok, err := svc.Store.SessionExists(context.Background(), "2025-06-01-feature")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestImportFileSkipsEmptyTurns(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	path := writeTranscript(t, dir, "s1.jsonl",
		`{"uuid":"u1","sessionId":"s1","type":"assistant","message":{"role":"assistant","content":[]}}`,
	)

	res, err := ImportFile(context.Background(), svc, path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Captured)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportDir(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()

	writeTranscript(t, dir, "a.jsonl",
		`{"uuid":"a1","sessionId":"a","type":"user","timestamp":"2025-06-01T10:00:00Z","message":{"role":"user","content":"first session"}}`,
	)
	writeTranscript(t, dir, "b.jsonl",
		`{"uuid":"b1","sessionId":"b","type":"user","timestamp":"2025-06-01T11:00:00Z","message":{"role":"user","content":"second session"}}`,
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	results, err := ImportDir(context.Background(), svc, dir, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	total := 0
	for _, res := range results {
		total += res.Captured
	}
	assert.Equal(t, 2, total)

	sessions, err := svc.Store.ListSessions(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
