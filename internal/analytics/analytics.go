// Package analytics computes rollups over the message store: overall and
// per-day token/message counts, per-tool invocation stats, and per-session
// totals. All computations are pure reads at query time.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/turnkit/turnlog/internal/logging"
	"github.com/turnkit/turnlog/internal/store"
)

var aggLog = logging.ForComponent(logging.CompAnalytics)

// Aggregator answers analytics queries against a store.
type Aggregator struct {
	store *store.Store
}

// New returns an aggregator over the given store.
func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// OverallStats summarizes the whole corpus. AvgThinkingTokensPerMessage is
// computed only over messages with thinking tokens > 0, so silent messages
// do not pull the average toward zero.
type OverallStats struct {
	TotalSessions               int     `json:"total_sessions"`
	TotalMessages               int     `json:"total_messages"`
	TotalThinkingTokens         int64   `json:"total_thinking_tokens"`
	TotalInputTokens            int64   `json:"total_input_tokens"`
	TotalOutputTokens           int64   `json:"total_output_tokens"`
	AvgThinkingTokensPerMessage float64 `json:"avg_thinking_tokens_per_message"`
}

// Overall returns corpus-wide totals.
func (a *Aggregator) Overall(ctx context.Context) (*OverallStats, error) {
	stats := &OverallStats{}
	db := a.store.DB()

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&stats.TotalSessions); err != nil {
		return nil, fmt.Errorf("analytics: count sessions: %w", err)
	}

	var thinkingMessages int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(thinking_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(CASE WHEN thinking_tokens > 0 THEN 1 ELSE 0 END), 0)
		FROM messages
	`).Scan(
		&stats.TotalMessages,
		&stats.TotalThinkingTokens,
		&stats.TotalInputTokens,
		&stats.TotalOutputTokens,
		&thinkingMessages,
	); err != nil {
		return nil, fmt.Errorf("analytics: message totals: %w", err)
	}

	if thinkingMessages > 0 {
		stats.AvgThinkingTokensPerMessage = float64(stats.TotalThinkingTokens) / float64(thinkingMessages)
	}
	return stats, nil
}

// DayStats is one calendar day's activity.
type DayStats struct {
	Day            string `json:"day"` // YYYY-MM-DD, UTC
	ActiveSessions int    `json:"active_sessions"`
	MessageCount   int    `json:"message_count"`
	ThinkingTokens int64  `json:"thinking_tokens"`
	InputTokens    int64  `json:"input_tokens"`
	OutputTokens   int64  `json:"output_tokens"`
}

// Daily returns per-day rollups for calendar days in [today − windowDays,
// today] that saw at least one message, ordered newest-day-first. Days with
// zero messages are omitted, not zero-filled.
func (a *Aggregator) Daily(ctx context.Context, windowDays int) ([]DayStats, error) {
	if windowDays < 0 {
		return nil, &store.ValidationError{Field: "days", Reason: "must be non-negative"}
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)
	sinceDay := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT date(created_at / 1000, 'unixepoch') AS day,
			COUNT(DISTINCT session_id),
			COUNT(*),
			COALESCE(SUM(thinking_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0)
		FROM messages
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day DESC
	`, sinceDay.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("analytics: daily stats: %w", err)
	}
	defer rows.Close()

	days := []DayStats{}
	for rows.Next() {
		var d DayStats
		if err := rows.Scan(
			&d.Day, &d.ActiveSessions, &d.MessageCount,
			&d.ThinkingTokens, &d.InputTokens, &d.OutputTokens,
		); err != nil {
			return nil, fmt.Errorf("analytics: scan day: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// ToolStats aggregates invocations of one tool across every message.
type ToolStats struct {
	ToolName      string  `json:"tool_name"`
	CallCount     int     `json:"call_count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	ErrorCount    int     `json:"error_count"`
}

// ToolUsage groups every tool-call record by tool name. Average duration is
// taken only over calls that carry a duration. Entries without a name are
// dropped rather than grouped under an "unknown" bucket.
func (a *Aggregator) ToolUsage(ctx context.Context) ([]ToolStats, error) {
	type acc struct {
		calls         int
		errors        int
		durationTotal int64
		durationCalls int
	}
	byName := make(map[string]*acc)

	err := a.store.ForEachMessage(ctx, func(msg *store.Message) error {
		for _, call := range msg.ToolCalls {
			if call.Name == "" {
				continue
			}
			s, ok := byName[call.Name]
			if !ok {
				s = &acc{}
				byName[call.Name] = s
			}
			s.calls++
			if call.Error != "" {
				s.errors++
			}
			if call.DurationMS != nil {
				s.durationTotal += *call.DurationMS
				s.durationCalls++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := make([]ToolStats, 0, len(byName))
	for name, s := range byName {
		t := ToolStats{ToolName: name, CallCount: s.calls, ErrorCount: s.errors}
		if s.durationCalls > 0 {
			t.AvgDurationMS = float64(s.durationTotal) / float64(s.durationCalls)
		}
		stats = append(stats, t)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CallCount != stats[j].CallCount {
			return stats[i].CallCount > stats[j].CallCount
		}
		return stats[i].ToolName < stats[j].ToolName
	})

	aggLog.Debug("tool_usage", "tools", len(stats))
	return stats, nil
}

// SessionStats summarizes one session's messages.
type SessionStats struct {
	SessionID       string  `json:"session_id"`
	MessageCount    int     `json:"message_count"`
	ThinkingTokens  int64   `json:"thinking_tokens"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	ToolCallCount   int     `json:"tool_call_count"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Session returns rollups for one session. A session with zero messages has
// an undefined duration, so it reports NotFound rather than zeros.
func (a *Aggregator) Session(ctx context.Context, sessionID string) (*SessionStats, error) {
	stats := &SessionStats{SessionID: sessionID}
	var firstMilli, lastMilli int64

	err := a.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(thinking_tokens), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(MIN(created_at), 0),
			COALESCE(MAX(created_at), 0)
		FROM messages WHERE session_id = ?
	`, sessionID).Scan(
		&stats.MessageCount, &stats.ThinkingTokens, &stats.InputTokens,
		&stats.OutputTokens, &firstMilli, &lastMilli,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: session stats: %w", err)
	}
	if stats.MessageCount == 0 {
		return nil, &store.NotFoundError{Kind: "session", ID: sessionID}
	}

	stats.DurationMinutes = float64(lastMilli-firstMilli) / 1000.0 / 60.0

	msgs, _, err := a.store.ListBySession(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		stats.ToolCallCount += len(msg.ToolCalls)
	}
	return stats, nil
}
