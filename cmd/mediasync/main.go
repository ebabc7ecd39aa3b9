package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mediasync/internal/conf"
	"mediasync/internal/server"
	"mediasync/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "mediasync"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs", "config path, eg: -conf config.yaml")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-conf path] sync [-movies] [-shows] [-sequential]\n", Name)
		fmt.Fprintf(os.Stderr, "       %s [-conf path] worker\n", Name)
		flag.PrintDefaults()
	}
}

func newApp(logger log.Logger, js *server.JobServer, sched *server.Scheduler) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(js, sched),
	)
}

func loadConfig() (*conf.Bootstrap, func(), error) {
	c := config.New(
		config.WithSource(
			env.NewSource("MEDIASYNC_"),
			file.NewSource(flagconf),
		),
	)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}
	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	bc.SetDefaults()
	return &bc, func() { _ = c.Close() }, nil
}

// setupTracing installs the stdout span exporter when enabled.
func setupTracing(c *conf.Trace) (func(context.Context) error, error) {
	if !c.Stdout {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	bc, closeConfig, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}
	defer closeConfig()

	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)
	logger = log.NewFilter(logger, log.FilterLevel(log.ParseLevel(bc.Log.Level)))
	h := log.NewHelper(logger)

	shutdownTracing, err := setupTracing(bc.Trace)
	if err != nil {
		h.Error(err)
		return 2
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			h.Warnf("failed to flush traces: %v", err)
		}
	}()

	switch flag.Arg(0) {
	case "sync":
		return runSync(bc, logger, flag.Args()[1:])
	case "worker":
		return runWorker(bc, logger)
	default:
		flag.Usage()
		return 2
	}
}

func runSync(bc *conf.Bootstrap, logger log.Logger, args []string) int {
	h := log.NewHelper(logger)
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	movies := fs.Bool("movies", false, "sync movies only")
	shows := fs.Bool("shows", false, "sync shows and episodes only")
	sequential := fs.Bool("sequential", false, "run the movie and show streams one after the other")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	svc, cleanup, err := wireSync(bc.Data, bc.Catalog, bc.Providers, bc.Sync, bc.Metrics, logger)
	if err != nil {
		h.Errorf("failed to initialize: %v", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := svc.Sync(ctx, &service.SyncRequest{Movies: *movies, Shows: *shows, Sequential: *sequential})
	if err != nil {
		h.Error(err)
		return 1
	}
	if report.AllFailed() {
		h.Errorf("run %s failed: every stream failed", report.RunID)
		return 1
	}
	return 0
}

func runWorker(bc *conf.Bootstrap, logger log.Logger) int {
	h := log.NewHelper(logger)
	app, cleanup, err := wireApp(bc.Data, bc.Catalog, bc.Providers, bc.Sync, bc.Metrics, bc.Worker, logger)
	if err != nil {
		h.Errorf("failed to initialize: %v", err)
		return 1
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		h.Error(err)
		return 1
	}
	return 0
}
