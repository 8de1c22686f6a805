// Package ingest imports assistant session transcripts from JSONL files
// into the capture path, either as a one-shot bulk import or by tailing a
// watched directory.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turnkit/turnlog/internal/logging"
	"github.com/turnkit/turnlog/internal/service"
	"github.com/turnkit/turnlog/internal/store"
)

var ingestLog = logging.ForComponent(logging.CompIngest)

// scanner buffer sizes; tool outputs can make single lines huge.
const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf     = 10 * 1024 * 1024
)

// jsonlRecord is one line of an assistant session transcript.
type jsonlRecord struct {
	UUID      string `json:"uuid"`
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	CWD       string `json:"cwd"`
	Message   struct {
		Role    string          `json:"role"`
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
		Usage   struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// contentPart is one element of a structured content array.
type contentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

// Result summarizes one file import.
type Result struct {
	SessionID string
	Captured  int
	Skipped   int
}

// ImportFile ingests a whole transcript file. The owning session is created
// on first sight; messages already captured (by uuid) are skipped, so
// re-importing a file is idempotent.
func ImportFile(ctx context.Context, svc *service.Service, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	res := &Result{}
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, scannerInitialBuf)
	scanner.Buffer(buf, scannerMaxBuf)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		captured, err := ingestLine(ctx, svc, path, line, res)
		if err != nil {
			return res, err
		}
		if captured {
			res.Captured++
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("ingest: scan %s: %w", path, err)
	}

	ingestLog.Info("file_imported",
		"path", path, "captured", res.Captured, "skipped", res.Skipped)
	return res, nil
}

// ImportDir bulk-imports every .jsonl file under dir, a few files at a time.
func ImportDir(ctx context.Context, svc *service.Service, dir string, concurrency int) ([]*Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("ingest: glob %s: %w", dir, err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]*Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range paths {
		g.Go(func() error {
			res, err := ImportFile(gctx, svc, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ingestLine parses one JSONL line and captures it if it is a
// conversational turn. Malformed lines and non-turn records are skipped.
func ingestLine(ctx context.Context, svc *service.Service, path string, line []byte, res *Result) (bool, error) {
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		res.Skipped++
		return false, nil
	}
	if rec.Type != "user" && rec.Type != "assistant" && rec.Type != "system" {
		res.Skipped++
		return false, nil
	}

	sessionID := rec.SessionID
	if sessionID == "" {
		sessionID = sessionIDFromPath(path)
	}
	if res.SessionID == "" {
		res.SessionID = sessionID
	}
	if err := ensureSession(ctx, svc, sessionID, rec.CWD, path); err != nil {
		return false, err
	}

	if rec.UUID != "" {
		if _, err := svc.Store.GetMessage(ctx, rec.UUID); err == nil {
			res.Skipped++
			return false, nil
		} else if !store.IsNotFound(err) {
			return false, err
		}
	}

	in := captureInputFromRecord(sessionID, &rec)
	if in.Content == "" && in.Thinking == "" && len(in.ToolCalls) == 0 {
		res.Skipped++
		return false, nil
	}
	if _, err := svc.Capture(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}

func captureInputFromRecord(sessionID string, rec *jsonlRecord) *store.CaptureInput {
	in := &store.CaptureInput{
		ID:           rec.UUID,
		SessionID:    sessionID,
		Role:         rec.Type,
		Model:        rec.Message.Model,
		InputTokens:  rec.Message.Usage.InputTokens,
		OutputTokens: rec.Message.Usage.OutputTokens,
	}
	if ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp); err == nil {
		in.CreatedAt = ts.UTC()
	}

	// Content is either a bare string or an array of typed parts.
	var text string
	if err := json.Unmarshal(rec.Message.Content, &text); err == nil {
		in.Content = text
		return in
	}

	var parts []contentPart
	if err := json.Unmarshal(rec.Message.Content, &parts); err != nil {
		return in
	}
	var content, thinking []string
	for _, part := range parts {
		switch part.Type {
		case "text":
			if part.Text != "" {
				content = append(content, part.Text)
			}
		case "thinking":
			if part.Thinking != "" {
				thinking = append(thinking, part.Thinking)
			}
		case "tool_use":
			in.ToolCalls = append(in.ToolCalls, store.ToolCall{
				ID:    part.ID,
				Name:  part.Name,
				Input: part.Input,
			})
		}
	}
	in.Content = strings.Join(content, "\n")
	in.Thinking = strings.Join(thinking, "\n")
	return in
}

func ensureSession(ctx context.Context, svc *service.Service, sessionID, cwd, path string) error {
	ok, err := svc.Store.SessionExists(ctx, sessionID)
	if err != nil || ok {
		return err
	}
	return svc.Store.CreateSession(ctx, &store.Session{
		ID:          sessionID,
		Name:        sessionIDFromPath(path),
		ProjectPath: cwd,
	})
}

func sessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
