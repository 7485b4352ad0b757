package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-threads/instrument"
	"github.com/wippyai/wasm-threads/internal/config"
	"github.com/wippyai/wasm-threads/metrics"
	"github.com/wippyai/wasm-threads/runtime"
)

type options struct {
	cfg         config.Config
	funcName    string
	args        []string
	jobs        int
	list        bool
	interactive bool
}

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to threaded wasm module")
		configFile  = flag.String("config", "", "TOML or YAML config file")
		envFile     = flag.String("env", ".env", "Env file with WASM_THREADS_* overrides")
		threads     = flag.Int("threads", 0, "Worker threads (overrides config)")
		funcName    = flag.String("func", "", "Export to run on the pool")
		argList     = flag.String("args", "", "Comma-separated arguments for -func")
		jobs        = flag.Int("jobs", 1, "Number of times to run -func")
		metricsAddr = flag.String("metrics-addr", "", "Serve /metrics and /workers on this address")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		debug       = flag.Bool("debug", false, "Debug logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "wasm":
			cfg.Wasm = *wasmFile
		case "threads":
			cfg.Threads = *threads
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "debug":
			cfg.Debug = *debug
		}
	})

	if cfg.Wasm == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmpool -wasm <file.wasm> [-threads n] [-func name -args a,b] [-jobs n]")
		fmt.Fprintln(os.Stderr, "       wasmpool -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       wasmpool -config pool.toml -i  (interactive mode)")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := options{
		cfg:         cfg,
		funcName:    *funcName,
		args:        splitArgs(*argList),
		jobs:        *jobs,
		list:        *list,
		interactive: *interactive,
	}

	if opts.interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal; running without TUI")
		opts.interactive = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, envFile string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return config.Config{}, err
		}
	}
	if err := config.LoadEnv(envFile); err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func newLogger(debug, quiet bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	// The TUI owns the terminal; logs go to a file instead.
	if quiet {
		cfg.OutputPaths = []string{"wasmpool.log"}
		cfg.ErrorOutputPaths = []string{"wasmpool.log"}
	}
	return cfg.Build()
}

// session is everything a run needs: the runtime, the loaded module and
// the metrics the status server exposes.
type session struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	rt       *runtime.Runtime
	module   *runtime.Module
}

func openSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (*session, error) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New("wasm_threads", reg)
	if err != nil {
		return nil, err
	}
	rec := instrument.NewRecorder(instrument.WithLogger(logger), instrument.WithSink(m))

	rt, err := runtime.New(ctx, cfg.RuntimeConfig(logger, rec, m))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cfg.Wasm)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("read file: %w", err)
	}
	mod, err := rt.LoadWASM(ctx, data, cfg.WIT)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("load module: %w", err)
	}
	return &session{logger: logger, registry: reg, rt: rt, module: mod}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.rt.Close(ctx)
}

func run(ctx context.Context, opts options) error {
	logger, err := newLogger(opts.cfg.Debug, opts.interactive)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	s, err := openSession(ctx, opts.cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close(context.WithoutCancel(ctx))

	if opts.interactive {
		return runInteractive(ctx, s, opts)
	}

	fmt.Printf("Module: %s (%s)\n", opts.cfg.Wasm, s.module.Name())
	fmt.Printf("\nExported functions:\n")
	for _, name := range s.module.Exports() {
		sig, err := s.module.Signature(name)
		if err != nil {
			continue
		}
		fmt.Printf("  %s\n", sig)
	}
	if opts.list {
		return nil
	}

	readyCtx := ctx
	if d, _ := opts.cfg.ReadyTimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	fmt.Printf("\nStarting %d workers...\n", opts.cfg.Threads)
	p, err := s.module.StartPool(readyCtx, opts.cfg.Threads)
	if err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	defer p.Close(context.WithoutCancel(ctx))

	if opts.cfg.MetricsAddr != "" {
		srv := newStatusServer(opts.cfg.MetricsAddr, s.registry, p, logger)
		srv.Start()
		defer srv.Stop(context.WithoutCancel(ctx))
	}

	go func() {
		for pm := range p.Panics() {
			fmt.Fprintf(os.Stderr, "worker %d panicked: %s\n", pm.Worker, pm.Message)
		}
	}()

	if opts.funcName != "" {
		if err := runJobs(ctx, p, opts); err != nil {
			return err
		}
	}

	fmt.Printf("\nWorkers:\n")
	printWorkers(os.Stdout, p.Workers())

	if opts.cfg.MetricsAddr != "" {
		fmt.Printf("\nServing status on %s; interrupt to stop.\n", opts.cfg.MetricsAddr)
		<-ctx.Done()
	}
	return nil
}

func runJobs(ctx context.Context, p *runtime.Pool, opts options) error {
	if opts.jobs < 1 {
		return fmt.Errorf("-jobs must be at least 1")
	}
	type outcome struct {
		err     error
		results []string
	}
	outcomes := make([]chan outcome, opts.jobs)
	for i := range outcomes {
		outcomes[i] = make(chan outcome, 1)
		go func() {
			res, err := p.CallStrings(ctx, opts.funcName, opts.args)
			outcomes[i] <- outcome{err: err, results: res}
		}()
	}

	fmt.Printf("\nCalling %s(%s) x%d...\n", opts.funcName, strings.Join(opts.args, ", "), opts.jobs)
	var failed int
	for i, ch := range outcomes {
		o := <-ch
		if o.err != nil {
			failed++
			fmt.Printf("  #%d error: %v\n", i, o.err)
			continue
		}
		fmt.Printf("  #%d result: %s\n", i, strings.Join(o.results, ", "))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, opts.jobs)
	}
	return nil
}
