package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"browsertour/internal/browser"
	"browsertour/internal/command"
	"browsertour/internal/config"
	"browsertour/internal/fetch"
	"browsertour/internal/logging"
	"browsertour/internal/mangle"
	mcpserver "browsertour/internal/mcp"
	"browsertour/internal/metrics"
	"browsertour/internal/recorder"
	"browsertour/internal/runner"
	"browsertour/internal/tour"

	"go.uber.org/zap"
)

// flags holds the command line. Override values apply only when set is true
// for their name.
type flags struct {
	configPath   string
	tourPath     string
	output       string
	debug        bool
	headless     bool
	width        int
	height       int
	wait         string
	slowmo       string
	trust        bool
	agent        string
	stopOnError  bool
	mcp          bool
	ssePort      int
	noWorkspace  bool
	workspaceDir string
	initWS       bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{set: map[string]bool{}}
	fs := flag.NewFlagSet("tourbot", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "Path to a config file (overrides the workspace config)")
	fs.StringVar(&f.tourPath, "tour", "", "Tour file (JSON or YAML)")
	fs.StringVar(&f.output, "output", "", "Write the result JSON to this file instead of stdout")
	fs.BoolVar(&f.debug, "debug", false, "Debug logging")
	fs.BoolVar(&f.headless, "headless", true, "Run Chrome headless")
	fs.IntVar(&f.width, "width", 0, "Viewport width")
	fs.IntVar(&f.height, "height", 0, "Viewport height")
	fs.StringVar(&f.wait, "wait", "", "Keep the browser open this long after the run (e.g. 5s)")
	fs.StringVar(&f.slowmo, "slowmo", "", "Delay every input action (e.g. 250ms)")
	fs.BoolVar(&f.trust, "trust", false, "Ignore certificate errors")
	fs.StringVar(&f.agent, "agent", "", "User agent override")
	fs.BoolVar(&f.stopOnError, "stop-on-error", false, "Abort on the first failed command")
	fs.BoolVar(&f.mcp, "mcp", false, "Serve tours over MCP instead of running one")
	fs.IntVar(&f.ssePort, "sse-port", 0, "Serve MCP over SSE on this port (stdio when 0)")
	fs.BoolVar(&f.noWorkspace, "no-workspace", false, "Skip .browsertour workspace discovery")
	fs.StringVar(&f.workspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	fs.BoolVar(&f.initWS, "init", false, "Create a .browsertour workspace and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	if fs.NArg() > 0 && f.tourPath == "" {
		f.tourPath = fs.Arg(0)
	}
	return f, nil
}

// apply overlays explicitly set flags on cfg.
func (f *flags) apply(cfg *config.Config) {
	if f.set["output"] {
		cfg.Tour.Output = f.output
	}
	if f.set["debug"] {
		cfg.Tour.Debug = f.debug
	}
	if f.set["headless"] {
		headless := f.headless
		cfg.Browser.Headless = &headless
	}
	if f.set["width"] {
		cfg.Browser.ViewportWidth = f.width
	}
	if f.set["height"] {
		cfg.Browser.ViewportHeight = f.height
	}
	if f.set["wait"] {
		cfg.Tour.CloseDelay = f.wait
	}
	if f.set["slowmo"] {
		cfg.Browser.SlowMotion = f.slowmo
	}
	if f.set["trust"] {
		cfg.Browser.IgnoreCertErrors = f.trust
	}
	if f.set["agent"] {
		cfg.Browser.UserAgent = f.agent
	}
	if f.set["stop-on-error"] {
		cfg.Tour.StopOnError = f.stopOnError
	}
	if f.set["sse-port"] {
		cfg.MCP.SSEPort = f.ssePort
	}
}

func main() {
	f, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if f.initWS {
		root := f.workspaceDir
		if root == "" {
			root = "."
		}
		if err := config.InitWorkspace(root); err != nil {
			fmt.Fprintf(os.Stderr, "init workspace: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "created %s/%s\n", root, config.WorkspaceDirName)
		return
	}

	cfg, wsDir, err := config.LoadWithWorkspace(f.configPath, config.WorkspaceOptions{
		Disable:     f.noWorkspace,
		ExplicitDir: f.workspaceDir,
	})
	if err != nil {
		// No logger yet.
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Stdio MCP owns stdout; keep stderr quiet when a log file is available.
	stdioMCP := f.mcp && cfg.MCP.SSEPort == 0
	logger := logging.New(logging.Options{
		Debug:     cfg.Tour.Debug,
		File:      cfg.Server.LogFile,
		MaxSizeMB: cfg.Server.LogMaxSizeMB,
		Quiet:     stdioMCP && cfg.Server.LogFile != "",
	})
	defer func() { _ = logger.Sync() }()
	if wsDir != "" {
		logger.Debug("workspace config loaded", zap.String("dir", wsDir))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, logger); err != nil {
		logger.Error("tourbot failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, f *flags, logger *zap.Logger) error {
	// A bad tour is reported before Chrome starts.
	var tr *tour.Tour
	if !f.mcp {
		var err error
		if tr, err = loadTour(f.tourPath); err != nil {
			return err
		}
	}

	engine, err := mangle.NewEngine(cfg.Mangle, logger)
	if err != nil {
		return fmt.Errorf("initialize journal: %w", err)
	}

	var observers []runner.Observer
	if cfg.Mangle.Enable {
		observers = append(observers, mangle.NewJournal(engine, logger))
	}
	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.GetMaxFiles(), logger)
		if err != nil {
			return fmt.Errorf("initialize recorder: %w", err)
		}
		defer rec.Close()
		observers = append(observers, rec)
	}

	sessions := browser.NewSessionManager(cfg.Browser, engine, logger)
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := sessions.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	}()

	if f.mcp {
		return serve(ctx, cfg, sessions, engine, observers, logger)
	}
	return runTour(ctx, cfg, tr, sessions, observers, logger)
}

func serve(ctx context.Context, cfg config.Config, sessions *browser.SessionManager, engine *mangle.Engine, observers []runner.Observer, logger *zap.Logger) error {
	deps := mcpserver.Deps{
		Pages:     mcpserver.SessionPages{Sessions: sessions},
		Commands:  browser.Commands(),
		Fetcher:   fetch.New(logger),
		Observers: observers,
		Logger:    logger,
	}
	if cfg.Mangle.Enable {
		deps.Engine = engine
	}
	if cfg.Metrics.Enable {
		collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
		deps.Observers = append(deps.Observers, collector)
		deps.Metrics = collector.Handler()
	}

	server, err := mcpserver.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("initialize MCP server: %w", err)
	}

	if cfg.MCP.SSEPort > 0 {
		err = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting MCP stdio server")
		err = server.Start(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

// loadTour reads the tour file and checks it has a root task.
func loadTour(path string) (*tour.Tour, error) {
	tr, err := tour.Load(path)
	if err != nil {
		return nil, err
	}
	if !tr.HasRoot() {
		return nil, tour.ErrNoRootTask
	}
	return tr, nil
}

func runTour(ctx context.Context, cfg config.Config, tr *tour.Tour, sessions *browser.SessionManager, observers []runner.Observer, logger *zap.Logger) error {
	page, err := sessions.OpenPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	bot, err := runner.New(tr, page,
		runner.WithFetcher(fetch.New(logger)),
		runner.WithAllowList(command.DefaultAllowList(page.Capabilities(), cfg.Tour.Deny...)),
		runner.WithSettleDelay(cfg.Tour.GetSettleDelay()),
		runner.WithStopOnError(cfg.Tour.StopOnError),
		runner.WithLogger(logger),
		runner.WithObserver(observers...),
	)
	if err != nil {
		return err
	}

	result, runErr := bot.Run(ctx)
	if err := writeResult(cfg.Tour.Output, result, os.Stdout); err != nil {
		return err
	}
	logger.Info("tour finished",
		zap.String("run", bot.RunID()),
		zap.Int("fields", len(result)),
		zap.Strings("pending", tr.Pending()),
	)

	if d := cfg.Tour.GetCloseDelay(); d > 0 && ctx.Err() == nil {
		logger.Info("keeping browser open", zap.Duration("delay", d))
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	return runErr
}

// writeResult writes result as indented JSON to path, or to stdout when path
// is empty.
func writeResult(path string, result runner.Result, stdout io.Writer) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
