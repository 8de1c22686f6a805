package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/turnkit/turnlog/internal/config"
	"github.com/turnkit/turnlog/internal/ingest"
	"github.com/turnkit/turnlog/internal/logging"
	"github.com/turnkit/turnlog/internal/search"
	"github.com/turnkit/turnlog/internal/service"
	"github.com/turnkit/turnlog/internal/store"
	"github.com/turnkit/turnlog/internal/web"
)

const Version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(args)
	case "import":
		err = cmdImport(args)
	case "search":
		err = cmdSearch(args)
	case "stats":
		err = cmdStats(args)
	case "sessions":
		err = cmdSessions(args)
	case "version":
		fmt.Printf("turnlog v%s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`turnlog - capture, search, and analyze AI coding sessions

Usage:
  turnlog serve    [-addr host:port]          start the HTTP API
  turnlog import   [-jobs n] <file-or-dir>    import JSONL transcripts
  turnlog search   [flags] <query>            search captured turns
  turnlog stats    [overall|daily|tools|session] [flags]
  turnlog sessions [-filter text]             list sessions
  turnlog version

Global flags (every subcommand):
  -config path    config file (default ~/.turnlog/config.toml)
  -db path        override database path
  -debug          verbose logging
`)
}

// commonFlags registers the flags shared by every subcommand.
func commonFlags(fs *flag.FlagSet) (cfgPath, dbPath *string, debug *bool) {
	cfgPath = fs.String("config", filepath.Join(config.DataDir(), config.FileName), "config file path")
	dbPath = fs.String("db", "", "database path override")
	debug = fs.Bool("debug", false, "verbose logging")
	return
}

// openService loads config, initializes logging, opens the store, and
// rebuilds the index.
func openService(ctx context.Context, cfgPath, dbPath string, debug bool) (*config.Config, *service.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logging.Init(logging.Config{
		Dir:        cfg.Logs.Dir,
		Level:      cfg.Logs.Level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.MaxAgeDays,
		Compress:   cfg.Logs.Compress,
		Debug:      debug,
	})

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, nil, err
	}

	svc := service.New(st, cfg.Weights(), cfg.SnippetBounds())
	if err := svc.Rebuild(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return cfg, svc, nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath, dbPath, debug := commonFlags(fs)
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, svc, err := openService(ctx, *cfgPath, *dbPath, *debug)
	if err != nil {
		return err
	}
	defer svc.Store.Close()
	defer logging.Shutdown()

	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	if cfg.WatchDir != "" {
		watcher := ingest.NewWatcher(svc, cfg.WatchDir)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "watcher stopped: %v\n", err)
			}
		}()
	}

	srv := web.NewServer(web.Config{ListenAddr: cfg.ListenAddr}, svc)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Printf("turnlog v%s listening on http://%s\n", Version, srv.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath, dbPath, debug := commonFlags(fs)
	jobs := fs.Int("jobs", 4, "concurrent file imports")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: turnlog import [flags] <file-or-dir>")
	}
	target := fs.Arg(0)

	ctx := context.Background()
	_, svc, err := openService(ctx, *cfgPath, *dbPath, *debug)
	if err != nil {
		return err
	}
	defer svc.Store.Close()
	defer logging.Shutdown()

	info, err := os.Stat(target)
	if err != nil {
		return err
	}

	var results []*ingest.Result
	if info.IsDir() {
		results, err = ingest.ImportDir(ctx, svc, target, *jobs)
	} else {
		var res *ingest.Result
		res, err = ingest.ImportFile(ctx, svc, target)
		results = []*ingest.Result{res}
	}
	if err != nil {
		return err
	}

	var captured, skipped int
	for _, res := range results {
		if res == nil {
			continue
		}
		captured += res.Captured
		skipped += res.Skipped
	}
	fmt.Printf("Imported %d message(s) across %d file(s), skipped %d line(s)\n",
		captured, len(results), skipped)
	return nil
}

func cmdSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cfgPath, dbPath, debug := commonFlags(fs)
	sessionID := fs.String("session", "", "restrict to one session id")
	role := fs.String("role", "", "restrict to a role (user, assistant, system)")
	limit := fs.Int("limit", 20, "max results")
	offset := fs.Int("offset", 0, "results to skip")
	thinking := fs.Bool("thinking", false, "include thinking snippets")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: turnlog search [flags] <query>")
	}

	ctx := context.Background()
	_, svc, err := openService(ctx, *cfgPath, *dbPath, *debug)
	if err != nil {
		return err
	}
	defer svc.Store.Close()
	defer logging.Shutdown()

	resp, err := svc.Search(ctx, fs.Arg(0), search.Options{
		SessionID:       *sessionID,
		Role:            *role,
		Limit:           *limit,
		Offset:          *offset,
		IncludeThinking: *thinking,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(resp)
	}
	printSearchResults(resp)
	return nil
}

func cmdStats(args []string) error {
	sub := "overall"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath, dbPath, debug := commonFlags(fs)
	days := fs.Int("days", 7, "window for daily stats")
	sessionID := fs.String("id", "", "session id for session stats")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	_, svc, err := openService(ctx, *cfgPath, *dbPath, *debug)
	if err != nil {
		return err
	}
	defer svc.Store.Close()
	defer logging.Shutdown()

	switch sub {
	case "overall":
		stats, err := svc.Analytics.Overall(ctx)
		if err != nil {
			return err
		}
		if *jsonOut {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		printOverallStats(stats)
	case "daily":
		stats, err := svc.Analytics.Daily(ctx, *days)
		if err != nil {
			return err
		}
		if *jsonOut {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		printDailyStats(stats)
	case "tools":
		stats, err := svc.Analytics.ToolUsage(ctx)
		if err != nil {
			return err
		}
		if *jsonOut {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		printToolStats(stats)
	case "session":
		id := *sessionID
		if id == "" && fs.NArg() > 0 {
			id = fs.Arg(0)
		}
		if id == "" {
			return fmt.Errorf("usage: turnlog stats session <id>")
		}
		stats, err := svc.Analytics.Session(ctx, id)
		if err != nil {
			return err
		}
		if *jsonOut {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}
		printSessionStats(stats)
	default:
		return fmt.Errorf("unknown stats subcommand: %s", sub)
	}
	return nil
}

func cmdSessions(args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	cfgPath, dbPath, debug := commonFlags(fs)
	filter := fs.String("filter", "", "fuzzy name filter")
	jsonOut := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	_, svc, err := openService(ctx, *cfgPath, *dbPath, *debug)
	if err != nil {
		return err
	}
	defer svc.Store.Close()
	defer logging.Shutdown()

	sessions, err := svc.Store.ListSessions(ctx, *filter)
	if err != nil {
		return err
	}
	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(sessions)
	}
	printSessions(sessions)
	return nil
}
