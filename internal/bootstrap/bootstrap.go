package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "facecam-server/docs"
	"facecam-server/internal/domain/capture"
	"facecam-server/internal/domain/capture/webcam"
	"facecam-server/internal/domain/eventbus"
	"facecam-server/internal/domain/face"
	"facecam-server/internal/domain/face/cascade"
	"facecam-server/internal/domain/frame"
	"facecam-server/internal/domain/journal"
	platformconfig "facecam-server/internal/platform/config"
	platformerrors "facecam-server/internal/platform/errors"
	platformlogging "facecam-server/internal/platform/logging"
	platformobservability "facecam-server/internal/platform/observability"
	platformstorage "facecam-server/internal/platform/storage"
	httptransport "facecam-server/internal/transport/http"
	httpstream "facecam-server/internal/transport/http/stream"
	httpvision "facecam-server/internal/transport/http/vision"
	httpwebapi "facecam-server/internal/transport/http/webapi"
	"facecam-server/internal/transport/ws"
	"facecam-server/internal/utils"
)

const (
	DetectorCascade = "cascade"
	DetectorNone    = "none"

	shutdownTimeout = 15 * time.Second
)

// Options are supplied by the command line.
type Options struct {
	ConfigPath string
}

const scalarHTML = `<!DOCTYPE html>
<html lang="en">
	<head>
		<meta charset="utf-8" />
		<title>facecam-server API Reference</title>
		<meta name="viewport" content="width=device-width, initial-scale=1" />
	</head>
	<body>
		<script
			id="api-reference"
			data-url="/openapi.json"
			data-layout="modern"
			src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"
		></script>
	</body>
</html>`

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logProvider           *platformlogging.Logger
	logger                *utils.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	bus                   *eventbus.AsyncEventBus
	db                    *gorm.DB
	journal               journal.Store
	recorder              *journal.Recorder
	detector              face.Detector
	closeDetector         func() error
	pipeline              *face.Pipeline
	captureLoop           *capture.Loop
	hub                   *ws.Hub
	wsRouter              *ws.Router
}

// Run starts the whole service lifecycle: load config, initialise
// dependencies, serve, and shut down gracefully.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	steps := InitGraph()
	err := executeInitSteps(ctx, steps, state)
	defer state.release()
	if err != nil {
		return err
	}

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	// a failing service ends the wait as well as a signal
	signalCtx, stop := signal.NotifyContext(groupCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	logger.InfoTag("Bootstrap", "services started")
	return waitForShutdown(signalCtx, cancel, logger, group)
}

// release closes everything the init steps opened, in reverse order.
func (s *appState) release() {
	logger := s.logger

	if s.recorder != nil {
		s.recorder.Detach()
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.closeDetector != nil {
		if err := s.closeDetector(); err != nil {
			logger.WarnTag("Vision", "detector close: %v", err)
		}
	}
	if s.journal != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.journal.Close(closeCtx); err != nil {
			logger.WarnTag("Journal", "store close: %v", err)
		}
		cancel()
	}
	if s.db != nil {
		if err := platformstorage.CloseDatabase(s.db); err != nil {
			logger.WarnTag("Bootstrap", "database close: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil {
			logger.WarnTag("Bootstrap", "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
	if s.logProvider != nil {
		_ = s.logProvider.Close()
	}
}

func logBootstrapGraph(steps []initStep, logger *utils.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("Bootstrap", "initialisation graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("Bootstrap", "  %s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag("Bootstrap", "  %s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Start event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Open database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "journal:init-store",
			Title:     "Initialise detection journal",
			DependsOn: []string{"storage:init-database", "eventbus:init"},
			Kind:      platformerrors.KindStorage,
			Execute:   initJournalStep,
		},
		{
			ID:        "vision:init-pipeline",
			Title:     "Initialise face pipeline",
			DependsOn: []string{"observability:setup-hooks", "eventbus:init"},
			Kind:      platformerrors.KindVision,
			Execute:   initPipelineStep,
		},
		{
			ID:        "capture:init-loop",
			Title:     "Initialise capture loop",
			DependsOn: []string{"vision:init-pipeline"},
			Kind:      platformerrors.KindDevice,
			Execute:   initCaptureStep,
		},
		{
			ID:        "transport:init-websocket",
			Title:     "Initialise websocket router",
			DependsOn: []string{"vision:init-pipeline"},
			Kind:      platformerrors.KindTransport,
			Execute:   initWebSocketStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().WithPath(state.configPath).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logProvider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logProvider = logProvider
	state.logger = logProvider.Legacy()
	state.slogger = logProvider.Slog()
	utils.DefaultLogger = state.logger

	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	state.logger.InfoTag("Bootstrap", "logging ready [%s] config from %s", state.config.Log.Level, source)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(0, state.logger)
	if err := eventbus.SetupEventHandlers(bus, state.logger); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "eventbus:init", "failed to register event handlers", err)
	}
	bus.Start()
	state.bus = bus
	return nil
}

// initDatabaseStep opens SQLite only when the journal is stored there.
func initDatabaseStep(_ context.Context, state *appState) error {
	if state.config.Journal.Driver != journal.DriverSQLite {
		return nil
	}
	db, err := platformstorage.OpenDatabase(state.config.Journal.SQLite.Path)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to open database", err)
	}
	state.db = db
	state.logger.InfoTag("Bootstrap", "database ready at %s", state.config.Journal.SQLite.Path)
	return nil
}

func initJournalStep(_ context.Context, state *appState) error {
	cfg := state.config.Journal
	storeCfg := journal.ConfigFrom(cfg)

	switch storeCfg.Driver {
	case "", journal.DriverMemory:
		storeCfg.Driver = journal.DriverMemory
		storeCfg.Memory = &journal.MemoryConfig{GCInterval: cfg.Cleanup}
	case journal.DriverSQLite:
	case journal.DriverRedis:
		if cfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindConfig, "journal:init-store", "redis journal addr is required")
		}
	default:
		state.logger.WarnTag("Journal", "unsupported driver %q, falling back to memory", cfg.Driver)
		storeCfg.Driver = journal.DriverMemory
		storeCfg.Memory = &journal.MemoryConfig{GCInterval: cfg.Cleanup}
	}

	store, err := journal.New(storeCfg, journal.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "journal:init-store", "failed to create journal store", err)
	}
	state.journal = store
	state.recorder = journal.NewRecorder(store, state.logger)
	state.logger.InfoTag("Journal", "using %s store", storeCfg.Driver)
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	vision := state.config.Vision

	detector, closeFn, err := newDetector(vision, state.logger)
	if err != nil {
		return err
	}
	state.detector = detector
	state.closeDetector = closeFn

	pipeline, err := face.NewPipeline(face.Config{
		Detector:       detector,
		Codec:          frame.NewCodec(frame.NewValidator(&vision.Security, state.logger)),
		Annotator:      face.NewAnnotator(face.DefaultStyle()),
		Logger:         state.logger,
		Publisher:      state.bus,
		Options:        pipelineOptions(state.config),
		MaxConcurrency: vision.MaxConcurrentDetections,
	})
	if err != nil {
		return err
	}
	state.pipeline = pipeline
	opts := pipeline.Options()
	state.logger.InfoTag("Vision", "pipeline ready: %s detector, %dx%d q%d",
		vision.Detector, opts.Size.Width, opts.Size.Height, opts.Quality)
	return nil
}

func newDetector(vision platformconfig.VisionConfig, logger *utils.Logger) (face.Detector, func() error, error) {
	switch strings.ToLower(vision.Detector) {
	case "", DetectorCascade:
		detector, err := cascade.New(vision.Cascade, vision.MaxConcurrentDetections)
		if err != nil {
			return nil, nil, err
		}
		return detector, detector.Close, nil
	case DetectorNone:
		logger.WarnTag("Vision", "face detection disabled; frames are re-encoded unmarked")
		return face.NoopDetector, nil, nil
	default:
		return nil, nil, platformerrors.New(platformerrors.KindConfig, "vision:init-pipeline",
			fmt.Sprintf("unknown detector %q", vision.Detector))
	}
}

func pipelineOptions(cfg *platformconfig.Config) face.Options {
	return face.Options{
		Size:          frame.Size{Width: cfg.Vision.TargetWidth, Height: cfg.Vision.TargetHeight},
		Quality:       cfg.Vision.JPEGQuality,
		DetectTimeout: cfg.Vision.DetectTimeout,
	}
}

func initCaptureStep(_ context.Context, state *appState) error {
	cfg := state.config.Capture
	if !cfg.Enabled {
		state.logger.InfoTag("Capture", "camera disabled")
		return nil
	}

	state.captureLoop = capture.NewLoop(capture.LoopConfig{
		Device:                 webcam.DeviceName(cfg),
		StreamQuality:          cfg.StreamQuality,
		ReopenAfterFailures:    cfg.ReopenAfterFailures,
		UnhealthyAfterFailures: cfg.UnhealthyAfterFailures,
		BackoffInitial:         cfg.BackoffInitial,
		BackoffMax:             cfg.BackoffMax,
	}, webcam.Opener(cfg), state.pipeline, capture.NewBroadcaster(), state.bus, state.logger)
	return nil
}

func initWebSocketStep(_ context.Context, state *appState) error {
	cfg := state.config.Transport.WebSocket
	state.hub = ws.NewHub(state.logger)
	state.wsRouter = ws.NewRouter(state.hub, state.logger, ws.RouterOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadLimit:        cfg.ReadLimit,
		IdleTimeout:      cfg.IdleTimeout,
		Publisher:        state.bus,
	})
	state.wsRouter.UseProcessor(state.pipeline)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if _, err := startHTTPServer(state, g, groupCtx); err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "transport:start-http", "failed to start http server", err)
	}
	startWebSocketServer(state, g, groupCtx)
	startCapture(state, g, groupCtx)
	if err := startJournal(state, g, groupCtx); err != nil {
		return err
	}
	if err := startConfigWatcher(state, g, groupCtx); err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:watch", "failed to watch config", err)
	}
	return nil
}

func buildHTTPRouter(state *appState) (*httptransport.Router, error) {
	cfg := state.config
	logger := state.logger

	router, err := httptransport.Build(httptransport.Options{
		Web:    cfg.Web,
		Debug:  strings.EqualFold(cfg.Log.Level, "debug"),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	httptransport.NewPageHandler(cfg.Web, logger).RegisterRoutes(router)

	visionService, err := httpvision.NewService(state.pipeline, 2*cfg.Vision.Security.MaxFileSize, logger)
	if err != nil {
		return nil, err
	}
	var broadcaster *capture.Broadcaster
	var captureStatus httpwebapi.CaptureStatus
	if state.captureLoop != nil {
		broadcaster = state.captureLoop.Broadcaster()
		captureStatus = state.captureLoop
	}
	streamService := httpstream.NewService(broadcaster, logger)
	webapiService, err := httpwebapi.NewService(httpwebapi.Dependencies{
		Journal:  state.journal,
		Capture:  captureStatus,
		Sessions: state.hub,
	}, logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := visionService.Register(ctx, router.API); err != nil {
		return nil, err
	}
	if err := webapiService.Register(ctx, router.API); err != nil {
		return nil, err
	}
	if err := streamService.Register(ctx, router.Root); err != nil {
		return nil, err
	}

	router.Root.GET("/openapi.json", func(c *gin.Context) {
		doc, err := swag.ReadDoc()
		if err != nil {
			logger.ErrorTag("HTTP", "openapi document: %v", err)
			httptransport.RespondError(c, http.StatusInternalServerError, "failed to generate openapi spec", gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
	})
	router.Root.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(scalarHTML))
	})

	if cfg.Transport.WebSocket.Port == 0 {
		handler := gin.WrapF(state.wsRouter.Handle)
		path := cfg.Transport.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		router.Root.GET(path, handler)
		if path != "/socket" {
			router.Root.GET("/socket", handler)
		}
	}

	return router, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	cfg := state.config
	logger := state.logger

	router, err := buildHTTPRouter(state)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)
		logger.InfoTag("HTTP", "api reference at http://%s/docs", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// MJPEG viewers never finish on their own
			if state.captureLoop != nil {
				state.captureLoop.Broadcaster().Close()
			}
			state.hub.CloseAll(ws.ErrSessionShutdown)

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func startWebSocketServer(state *appState, g *errgroup.Group, groupCtx context.Context) {
	cfg := state.config.Transport.WebSocket
	if cfg.Port == 0 {
		return
	}
	server := ws.NewServer(ws.ServerConfig{
		Addr:             net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		Path:             cfg.Path,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, state.wsRouter, state.logger)

	g.Go(func() error {
		if err := server.Start(groupCtx); err != nil {
			state.logger.ErrorTag("WebSocket", "listener failed: %v", err)
			return err
		}
		return nil
	})
}

func startCapture(state *appState, g *errgroup.Group, groupCtx context.Context) {
	if state.captureLoop == nil {
		return
	}
	g.Go(func() error {
		err := state.captureLoop.Run(groupCtx)
		if err != nil && groupCtx.Err() == nil {
			state.logger.ErrorTag("Capture", "loop stopped: %v", err)
			return err
		}
		return nil
	})
}

func startJournal(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if err := state.recorder.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "journal:attach", "failed to subscribe journal recorder", err)
	}
	g.Go(func() error {
		return state.recorder.RunCleanup(groupCtx, state.config.Journal.Cleanup)
	})
	return nil
}

// startConfigWatcher reloads the pipeline tunables when the config file
// changes. Other settings need a restart.
func startConfigWatcher(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if state.configPath == "" {
		return nil
	}
	logger := state.logger
	watcher, err := platformconfig.NewWatcher(state.configPath, func(cfg *platformconfig.Config) {
		state.pipeline.UpdateOptions(pipelineOptions(cfg))
		opts := state.pipeline.Options()
		logger.InfoTag("Config", "reloaded: %dx%d q%d timeout %s",
			opts.Size.Width, opts.Size.Height, opts.Quality, opts.DetectTimeout)
	})
	if err != nil {
		return err
	}
	watcher.OnError = func(err error) {
		logger.WarnTag("Config", "reload rejected, keeping previous settings: %v", err)
	}

	g.Go(func() error {
		if err := watcher.Run(groupCtx); err != nil {
			logger.WarnTag("Config", "watcher stopped: %v", err)
		}
		return nil
	})
	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("Bootstrap", "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Bootstrap", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("Bootstrap", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("Bootstrap", "shutdown timed out after %s", shutdownTimeout)
		return errors.New("shutdown timed out")
	}
	return nil
}
