package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vertd/internal/compress"
	"github.com/jmylchreest/vertd/internal/config"
	"github.com/jmylchreest/vertd/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/vertd/internal/http"
	"github.com/jmylchreest/vertd/internal/http/handlers"
	"github.com/jmylchreest/vertd/internal/http/middleware"
	"github.com/jmylchreest/vertd/internal/httpclient"
	"github.com/jmylchreest/vertd/internal/job"
	"github.com/jmylchreest/vertd/internal/metrics"
	"github.com/jmylchreest/vertd/internal/notify"
	"github.com/jmylchreest/vertd/internal/observability"
	"github.com/jmylchreest/vertd/internal/session"
	"github.com/jmylchreest/vertd/internal/startup"
	"github.com/jmylchreest/vertd/internal/storage"
	"github.com/jmylchreest/vertd/internal/transcode"
	"github.com/jmylchreest/vertd/internal/version"
	"github.com/jmylchreest/vertd/pkg/format"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vertd server",
	Long: `Start the vertd HTTP server.

The server provides:
- POST /api/upload, GET /api/ws and GET /api/download/{id}/{token}
- POST /api/keep/{id}/{token} and GET /api/version
- Health, job stats and ffmpeg endpoints under /api/v1
- Prometheus metrics and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// toolchain is the resolved ffmpeg installation and the encoder negotiator
// built on it.
type toolchain struct {
	detector   *ffmpeg.BinaryDetector
	info       *ffmpeg.BinaryInfo
	negotiator *ffmpeg.Negotiator
}

func newToolchain(ctx context.Context, c config.FFmpegConfig, logger *slog.Logger) (*toolchain, error) {
	detector := ffmpeg.NewBinaryDetector(c.BinaryPath, c.ProbePath)
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}

	probe := ffmpeg.NewTestEncodeProbe(info.FFmpegPath)
	if c.VAAPIDevice != "" {
		probe = probe.WithVAAPIDevices(c.VAAPIDevice)
	}
	negotiator := ffmpeg.NewNegotiator(probe).
		WithLogger(observability.WithComponent(logger, "negotiator")).
		WithEnabled(c.HWAccel)

	return &toolchain{detector: detector, info: info, negotiator: negotiator}, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := storage.NewLayout(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	if cfg.Storage.CleanOnStartup {
		removed, err := startup.CleanupJobFiles(logger, layout)
		if err != nil {
			logger.Warn("failed to clean job files from previous run", slog.String("error", err.Error()))
		}
		metrics.OrphansRemovedTotal.Add(float64(removed))
	}

	tools, err := newToolchain(ctx, cfg.FFmpeg, logger)
	if err != nil {
		return err
	}
	logger.Info("using ffmpeg",
		slog.String("ffmpeg", tools.info.FFmpegPath),
		slog.String("ffprobe", tools.info.FFprobePath),
		slog.String("version", tools.info.Version),
		slog.Bool("hwaccel", cfg.FFmpeg.HWAccel),
	)

	prober := ffmpeg.NewProber(tools.info.FFprobePath).
		WithTimeout(cfg.FFmpeg.ProbeTimeout).
		WithLogger(observability.WithComponent(logger, "prober"))
	supervisor := ffmpeg.NewSupervisor(tools.info.FFmpegPath).
		WithLogger(observability.WithComponent(logger, "ffmpeg")).
		OnExit(metrics.ObserveEncoderRun)

	rt := &job.Runtime{
		Policy:     transcode.NewPolicy(tools.negotiator).WithLogger(observability.WithComponent(logger, "policy")),
		Compressor: compress.NewController(supervisor).WithLogger(observability.WithComponent(logger, "compress")),
		Runner:     supervisor,
		Negotiator: tools.negotiator,
	}

	registry := job.NewRegistry(observability.WithComponent(logger, "registry"))

	retention := storage.NewRetention(cfg.Storage.OutputLifetime, registry.Forget).
		WithLogger(observability.WithComponent(logger, "retention"))
	defer retention.Stop()

	sweeper := storage.NewSweeper(layout, cfg.Storage.SweepSchedule, cfg.Storage.OutputLifetime, registry.Has).
		WithLogger(observability.WithComponent(logger, "sweeper")).
		OnSwept(func(n int) { metrics.OrphansRemovedTotal.Add(float64(n)) })
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	dispatcher := notify.NewDispatcher(newNotifier(cfg.Webhook, logger), cfg.Webhook.Timeout).
		WithLogger(observability.WithComponent(logger, "notify")).
		OnSent(metrics.ObserveNotification)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     internalhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MetricsPath:     metricsPath,
	}, logger, version.Version)

	if cfg.Server.AllowsAnyOrigin() {
		logger.Info("CORS allows any origin")
	} else {
		logger.Info("CORS restricted", slog.Any("origins", cfg.Server.CORSOrigins))
	}

	download := handlers.NewDownloadHandler(layout, registry, cfg.Storage.DownloadGrace).WithLogger(logger)
	if cfg.Admin.OverrideEnabled() {
		download = download.WithAdminPassword(cfg.Admin.Password)
		logger.Info("admin download override enabled")
	}

	ws := handlers.NewWebSocketHandler(ctx, session.Deps{
		Registry:   registry,
		Runtime:    rt,
		Retention:  retention,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, cfg.Server.CORSOrigins).WithLogger(logger)
	server.OnShutdown(ws)

	routes := internalhttp.Routes{
		Upload: handlers.NewUploadHandler(layout, registry, prober, cfg.Storage.MaxUploadSize.Bytes()).
			WithLogger(logger).
			WithProbeTimeout(cfg.FFmpeg.ProbeTimeout),
		Download:  download,
		WebSocket: ws,
	}
	if cfg.Server.UploadRateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.UploadRateLimit, cfg.Server.UploadBurst)
		routes.UploadLimit = limiter.Middleware
	}
	server.Mount(routes)

	api := server.API()
	handlers.NewVersionHandler().Register(api)
	handlers.NewKeepHandler(layout, registry).Register(api)
	handlers.NewHealthHandler(version.Version, registry).WithFFmpeg(tools.detector).Register(api)
	handlers.NewJobsHandler(registry, retention).Register(api)
	handlers.NewSystemHandler(tools.detector, tools.negotiator).Register(api)

	if cfg.FFmpeg.HWAccel {
		go warmEncoders(ctx, tools.negotiator, logger)
	}

	logger.Info("starting vertd server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.String("base_dir", layout.BaseDir()),
		slog.String("max_upload_size", format.Bytes(cfg.Storage.MaxUploadSize.Bytes())),
		slog.Duration("output_lifetime", cfg.Storage.OutputLifetime),
	)

	return server.ListenAndServe(ctx)
}

func newNotifier(c config.WebhookConfig, logger *slog.Logger) notify.Notifier {
	if !c.Enabled() {
		return notify.Noop{}
	}
	hc := httpclient.DefaultConfig()
	hc.Timeout = c.Timeout
	hc.Logger = observability.WithComponent(logger, "webhook")
	logger.Info("failure notifications enabled")
	return notify.NewDiscord(httpclient.New(hc), c.URL, c.Pings)
}

// warmEncoders probes every hardware encoder family so the first job does
// not pay for negotiation.
func warmEncoders(ctx context.Context, n *ffmpeg.Negotiator, logger *slog.Logger) {
	accelerated := 0
	for family, enc := range n.Warm(ctx) {
		if enc.Accelerated() {
			accelerated++
			logger.Info("hardware encoder available",
				slog.String("family", family),
				slog.String("encoder", enc.Name),
			)
		}
	}
	if accelerated == 0 {
		logger.Info("no hardware encoders available, using software encoders")
	}
}
