package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/turnkit/turnlog/internal/analytics"
	"github.com/turnkit/turnlog/internal/search"
	"github.com/turnkit/turnlog/internal/store"
)

// Table column widths for list output
const (
	colID      = 12
	colName    = 24
	colRole    = 9
	colSnippet = 60
	colDay     = 10
	colTool    = 20
)

// truncate shortens s to max display cells, honoring wide runes.
func truncate(s string, max int) string {
	return runewidth.Truncate(s, max, "…")
}

func pad(s string, width int) string {
	return runewidth.FillRight(truncate(s, width), width)
}

// isTTY gates fancy output; piped output stays machine-friendly.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printSearchResults(resp *search.Response) {
	if resp.Total == 0 {
		fmt.Println("No results.")
		return
	}
	fmt.Printf("%d result(s)\n\n", resp.Total)

	wide := isTTY()
	for i, r := range resp.Results {
		snippet := r.Snippet
		if !wide {
			snippet = truncate(strings.ReplaceAll(snippet, "\n", " "), colSnippet*2)
		}
		fmt.Printf("%2d. [%s] %s  %s  (rank %.1f)\n", i+1,
			pad(r.Role, colRole-2), truncate(r.SessionName, colName),
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Rank)
		fmt.Printf("    %s\n", snippet)
		if r.ThinkingSnippet != "" {
			fmt.Printf("    (thinking) %s\n", r.ThinkingSnippet)
		}
	}
}

func printOverallStats(stats *analytics.OverallStats) {
	fmt.Printf("Sessions:          %d\n", stats.TotalSessions)
	fmt.Printf("Messages:          %d\n", stats.TotalMessages)
	fmt.Printf("Thinking tokens:   %d\n", stats.TotalThinkingTokens)
	fmt.Printf("Input tokens:      %d\n", stats.TotalInputTokens)
	fmt.Printf("Output tokens:     %d\n", stats.TotalOutputTokens)
	fmt.Printf("Avg thinking/msg:  %.1f\n", stats.AvgThinkingTokensPerMessage)
}

func printDailyStats(days []analytics.DayStats) {
	if len(days) == 0 {
		fmt.Println("No activity in window.")
		return
	}
	fmt.Printf("%s  %8s  %8s  %10s  %10s\n",
		pad("DAY", colDay), "SESSIONS", "MESSAGES", "IN-TOK", "OUT-TOK")
	for _, d := range days {
		fmt.Printf("%s  %8d  %8d  %10d  %10d\n",
			pad(d.Day, colDay), d.ActiveSessions, d.MessageCount, d.InputTokens, d.OutputTokens)
	}
}

func printToolStats(stats []analytics.ToolStats) {
	if len(stats) == 0 {
		fmt.Println("No tool calls recorded.")
		return
	}
	fmt.Printf("%s  %8s  %12s  %7s\n", pad("TOOL", colTool), "CALLS", "AVG MS", "ERRORS")
	for _, t := range stats {
		fmt.Printf("%s  %8d  %12.1f  %7d\n",
			pad(t.ToolName, colTool), t.CallCount, t.AvgDurationMS, t.ErrorCount)
	}
}

func printSessionStats(stats *analytics.SessionStats) {
	fmt.Printf("Session:          %s\n", stats.SessionID)
	fmt.Printf("Messages:         %d\n", stats.MessageCount)
	fmt.Printf("Thinking tokens:  %d\n", stats.ThinkingTokens)
	fmt.Printf("Input tokens:     %d\n", stats.InputTokens)
	fmt.Printf("Output tokens:    %d\n", stats.OutputTokens)
	fmt.Printf("Tool calls:       %d\n", stats.ToolCallCount)
	fmt.Printf("Duration:         %.1f min\n", stats.DurationMinutes)
}

func printSessions(sessions []*store.Session) {
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return
	}
	fmt.Printf("%s  %s  %s  %s\n",
		pad("ID", colID), pad("NAME", colName), pad("CREATED", 16), "PROJECT")
	for _, sess := range sessions {
		fmt.Printf("%s  %s  %s  %s\n",
			pad(sess.ID, colID), pad(sess.Name, colName),
			sess.CreatedAt.Local().Format("2006-01-02 15:04"), sess.ProjectPath)
	}
}
