package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vango-dev/acceptd/internal/config"
	"github.com/vango-dev/acceptd/internal/errors"
	"github.com/vango-dev/acceptd/pkg/admin"
	"github.com/vango-dev/acceptd/pkg/listener"
	"github.com/vango-dev/acceptd/pkg/middleware"
	"github.com/vango-dev/acceptd/pkg/response"
	"github.com/vango-dev/acceptd/pkg/server"
)

type serveFlags struct {
	configPath   string
	address      string
	port         int
	backlog      int
	workers      int
	pollInterval string
	readTimeout  string
	writeTimeout string
	source       string
	file         string
	contentType  string
	raw          bool
	s3URL        string
	s3Endpoint   string
	s3Region     string
	admin        bool
	adminAddress string
	logLevel     string
	logFormat    string
	tracing      bool
}

func serveCmd() *cobra.Command {
	return newServeCmd(&serveFlags{})
}

func newServeCmd(f *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and answer each with the configured response",
		Long: `Bind the configured address, listen, and serve every client with one
response until interrupted.

Settings come from acceptd.json (in the current directory or --config) and
are overridden by flags.

Examples:
  acceptd serve
  acceptd serve --port=9000 --workers=16
  acceptd serve --response-file=./index.html
  acceptd serve --response-s3=s3://site/index.html --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, f); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, os.Stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to acceptd.json or its directory")
	flags.StringVarP(&f.address, "address", "a", "", "IP address to bind (default from acceptd.json)")
	flags.IntVarP(&f.port, "port", "p", 0, "TCP port to bind, 0 for ephemeral (default from acceptd.json)")
	flags.IntVar(&f.backlog, "backlog", 0, "Listen backlog")
	flags.IntVarP(&f.workers, "workers", "w", 0, "Number of request handlers")
	flags.StringVar(&f.pollInterval, "poll-interval", "", "Accept loop poll interval (e.g. 1s)")
	flags.StringVar(&f.readTimeout, "read-timeout", "", "Request read deadline, 0 to disable")
	flags.StringVar(&f.writeTimeout, "write-timeout", "", "Response write deadline, 0 to disable")
	flags.StringVar(&f.source, "response", "", "Response source: default, file or s3")
	flags.StringVar(&f.file, "response-file", "", "Serve this file (implies --response=file)")
	flags.StringVar(&f.contentType, "content-type", "", "Content type for file and S3 responses")
	flags.BoolVar(&f.raw, "raw", false, "Send file bytes without an HTTP frame")
	flags.StringVar(&f.s3URL, "response-s3", "", "Serve this object, s3://bucket/key (implies --response=s3)")
	flags.StringVar(&f.s3Endpoint, "s3-endpoint", "", "Custom S3 endpoint, enables path-style addressing")
	flags.StringVar(&f.s3Region, "s3-region", "", "S3 region (default $AWS_REGION)")
	flags.BoolVar(&f.admin, "admin", false, "Enable the admin HTTP server")
	flags.StringVar(&f.adminAddress, "admin-address", "", "Admin HTTP address (implies --admin)")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	flags.BoolVar(&f.tracing, "tracing", false, "Start an OpenTelemetry span per connection")

	return cmd
}

// loadConfig reads acceptd.json from path, which may name the file or its
// directory. With no path, the current directory is used when it holds a
// config file and built-in defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if config.Exists(".") {
			return config.Load(".")
		}
		return config.New(), nil
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return config.Load(path)
	}
	return config.LoadFile(path)
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *serveFlags) error {
	set := cmd.Flags().Changed

	if set("address") {
		cfg.Address = f.address
	}
	if set("port") {
		cfg.Port = f.port
	}
	if set("backlog") {
		cfg.Backlog = f.backlog
	}
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if set("read-timeout") {
		cfg.ReadTimeout = f.readTimeout
	}
	if set("write-timeout") {
		cfg.WriteTimeout = f.writeTimeout
	}
	if set("response") {
		cfg.Response.Source = f.source
	}
	if set("response-file") {
		cfg.Response.Source = config.SourceFile
		cfg.Response.File = f.file
	}
	if set("response-s3") {
		bucket, key, err := parseS3URL(f.s3URL)
		if err != nil {
			return err
		}
		cfg.Response.Source = config.SourceS3
		cfg.Response.S3.Bucket = bucket
		cfg.Response.S3.Key = key
	}
	if set("s3-endpoint") {
		cfg.Response.S3.Endpoint = f.s3Endpoint
		cfg.Response.S3.UsePathStyle = true
	}
	if set("s3-region") {
		cfg.Response.S3.Region = f.s3Region
	}
	if set("content-type") {
		cfg.Response.ContentType = f.contentType
	}
	if set("raw") {
		cfg.Response.Raw = f.raw
	}
	if set("admin") {
		cfg.Admin.Enabled = f.admin
	}
	if set("admin-address") {
		cfg.Admin.Enabled = true
		cfg.Admin.Address = f.adminAddress
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if set("tracing") {
		cfg.Tracing.Enabled = f.tracing
	}
	return nil
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if ok {
		bucket, key, ok = strings.Cut(rest, "/")
	}
	if !ok || bucket == "" || key == "" {
		return "", "", errors.New("E143").
			WithDetail(`"` + raw + `" is not an S3 URL`).
			WithExample("acceptd serve --response-s3=s3://bucket/path/to/index.html")
	}
	return bucket, key, nil
}

// newLogger builds the process logger from cfg.Log.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newBuilder selects the response builder for cfg.Response.
func newBuilder(cfg *config.Config) (response.Builder, error) {
	rc := cfg.Response
	switch rc.Source {
	case config.SourceDefault:
		return response.Default(), nil
	case config.SourceFile:
		b := response.File(cfg.ResponseFilePath(), rc.ContentType)
		if rc.Raw {
			b.Raw()
		}
		return b, nil
	case config.SourceS3:
		client := response.NewS3Client(cfg.S3Options())
		b := response.S3(client, rc.S3.Bucket, rc.S3.Key)
		if rc.ContentType != "" {
			b.WithContentType(rc.ContentType)
		}
		if rc.S3.MaxSize > 0 {
			b.WithMaxSize(rc.S3.MaxSize)
		}
		return b, nil
	default:
		return nil, errors.New("E143").
			WithDetail(`Unknown response source "` + rc.Source + `"`)
	}
}

// runServe builds the server and its observability stack from cfg and runs
// until ctx is done.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	sc, err := cfg.ServerConfig()
	if err != nil {
		return err
	}
	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(sc, builder)
	if err != nil {
		return codedServeError(err)
	}
	defer srv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		middleware.NewStatsCollector(srv, cfg.Metrics.Namespace),
	)

	// Tracing wraps metrics so the span covers the whole connection.
	if cfg.Tracing.Enabled {
		srv.Use(middleware.OpenTelemetry(middleware.WithTracerName(cfg.Tracing.Name)))
	}
	srv.Use(middleware.Prometheus(
		middleware.WithNamespace(cfg.Metrics.Namespace),
		middleware.WithRegistry(reg),
	))

	if cfg.Admin.Enabled {
		adm := admin.New(srv, admin.Config{
			Address:    cfg.Admin.Address,
			Gatherer:   reg,
			Registerer: reg,
			Namespace:  cfg.Metrics.Namespace,
		})
		if err := adm.Start(); err != nil {
			return errors.New("E203").
				Wrap(err).
				WithSuggestion("Choose another address with --admin-address")
		}
		srv.SetEventSink(adm.Feed())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adm.Shutdown(shutdownCtx)
		}()
	}

	printBanner()
	success("Bound %s", srv.Addr())
	if path := cfg.Path(); path != "" {
		info("Config:   %s", path)
	}
	info("Response: %s", describeResponse(cfg))
	info("Workers:  %d (poll %s)", srv.Config().Workers, srv.Config().PollInterval)
	if cfg.Admin.Enabled {
		info("Admin:    http://%s", cfg.Admin.Address)
	}
	fmt.Println()

	err = srv.Run(ctx)
	if stderrors.Is(err, server.ErrShutdownTimeout) {
		warn("Shutdown timed out with connections still in flight")
	}
	if err := codedServeError(err); err != nil {
		var ce *errors.CodedError
		if stderrors.As(err, &ce) {
			logger.Error("server stopped", "error", ce.FormatCompact())
		}
		return err
	}
	return nil
}

func describeResponse(cfg *config.Config) string {
	switch cfg.Response.Source {
	case config.SourceFile:
		return "file " + filepath.Clean(cfg.ResponseFilePath())
	case config.SourceS3:
		return "s3://" + cfg.Response.S3.Bucket + "/" + cfg.Response.S3.Key
	default:
		return "built-in page"
	}
}

// codedServeError maps server and listener failures to coded errors.
func codedServeError(err error) error {
	if err == nil {
		return nil
	}
	var ce *errors.CodedError
	if stderrors.As(err, &ce) {
		return err
	}

	switch {
	case stderrors.Is(err, server.ErrInvalidConfig):
		return errors.New("E122").Wrap(err)
	case stderrors.Is(err, listener.ErrBind):
		return errors.New("E200").
			Wrap(err).
			WithSuggestion("Check that the address is local and the port is free, or pick another with --port")
	case stderrors.Is(err, listener.ErrListen):
		return errors.New("E201").Wrap(err)
	}

	var loopErr *server.LoopError
	if stderrors.As(err, &loopErr) {
		return errors.New("E202").Wrap(err)
	}
	return err
}
