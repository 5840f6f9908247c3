// Package proberun runs network measurement suites through an external
// measurement engine, stores their results and uploads them to the
// collector. It serves an HTTP API and starts unattended runs on a
// schedule.
package proberun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raphi011/proberun/internal/autorun"
	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runner"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/settings"
	"github.com/raphi011/proberun/internal/storage"
)

type Server struct {
	port       int
	dataDir    string
	dbFilename string
	instance   string
	log        *slog.Logger

	bridge      engine.Bridge
	software    engine.Software
	networkType device.NetworkTypeFinder
	battery     device.BatteryStateFinder
	hooks       []hook.Hook
	schedule    *scheduledRun

	storage      *storage.Storage
	files        *storage.Files
	settings     *settings.Store
	catalog      *descriptor.Catalog
	state        *runstate.Manager
	hookManager  *hook.Manager
	engine       *engine.Engine
	orchestrator *runner.Orchestrator
	uploader     *runner.Uploader
	recovery     *runner.Recovery
	gatekeeper   *autorun.Gatekeeper
	autoRunSpec  *autorun.SpecificationBuilder
	cron         *cron.Cron

	httpServer *http.Server
	listener   net.Listener

	// runs tracks test runs and uploads started in the background.
	runs sync.WaitGroup

	initOnce sync.Once
	initErr  error
	ready    chan struct{}
}

// New configures a new Server. Nothing is started until Init or Run is
// called.
func New(opts ...Option) *Server {
	s := &Server{
		port:        1337,
		dataDir:     "data",
		dbFilename:  "proberun.db",
		log:         slog.Default(),
		software:    engine.Software{Name: "proberun", Version: "dev", Platform: "linux"},
		networkType: device.NewNetworkTypeFinder(),
		battery:     device.NewBatteryStateFinder(""),
		ready:       make(chan struct{}),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Init opens the storage, initiates the hooks and wires the runner. It
// also finalizes results left unfinished by a previous process. Init is
// safe to call multiple times.
func (s *Server) Init() error {
	s.initOnce.Do(func() {
		s.initErr = s.init()
	})

	return s.initErr
}

func (s *Server) init() error {
	if s.bridge == nil {
		return errors.New("no measurement engine configured")
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := s.dbFilename
	if dbPath != "" && !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(s.dataDir, dbPath)
	}

	var err error

	if s.storage, err = storage.New(dbPath, s.log); err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	if s.files, err = storage.NewFiles(s.dataDir); err != nil {
		return fmt.Errorf("preparing report files: %w", err)
	}

	s.hookManager = hook.NewManager(s.log, s.hooks...)
	if err = s.hookManager.Init(); err != nil {
		return err
	}

	s.settings = settings.New(s.storage)
	s.catalog = descriptor.NewCatalog(s.storage)

	engineDir := filepath.Join(s.dataDir, "engine")

	s.engine = engine.New(s.bridge,
		engine.WithLogger(s.log),
		engine.WithDirs(engineDir, filepath.Join(engineDir, "cache")),
		engine.WithSoftware(s.software),
		engine.WithPreferences(s.settings.EnginePreferences),
		engine.WithNetworkType(s.networkType.NetworkType),
		engine.WithChargingState(func() bool {
			return s.battery.BatteryState() == device.BatteryCharging
		}),
	)

	lastTestAt, err := s.storage.LatestResultStart(context.Background())
	if err != nil {
		s.log.Warn("unable to load latest result", "error", err)
	}

	s.state = runstate.NewManager(runstate.Idle{LastTestAt: lastTestAt})

	deps := runner.Deps{
		Store:    s.storage,
		Files:    s.files,
		Engine:   s.engine,
		State:    s.state,
		Hooks:    s.hookManager,
		Log:      s.log,
		Instance: s.instance,
	}

	s.orchestrator = runner.NewOrchestrator(deps, s.catalog, s.settings)
	s.uploader = runner.NewUploader(deps)
	s.recovery = runner.NewRecovery(deps)

	s.gatekeeper = autorun.NewGatekeeper(s.settings, s.networkType, s.battery, s.storage,
		autorun.WithLogger(s.log),
		autorun.WithInstance(s.instance),
	)
	s.autoRunSpec = autorun.NewSpecificationBuilder(s.catalog)

	s.recovery.Run(context.Background())

	return nil
}

// Run starts the schedule and serves the HTTP API until Shutdown is
// called.
func (s *Server) Run() error {
	if err := s.Init(); err != nil {
		return err
	}

	if err := s.startSchedule(); err != nil {
		return err
	}

	router := s.router()

	listener, err := net.Listen("tcp", "localhost:"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.port, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	s.log.Info("listening", "port", s.ServerPort())

	close(s.ready)

	if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// WaitForStartup blocks until the HTTP API accepts requests.
func (s *Server) WaitForStartup() {
	<-s.ready
}

// ServerPort returns the port the HTTP API listens on, which differs from
// the configured port when that was 0.
func (s *Server) ServerPort() int {
	if s.listener == nil {
		return s.port
	}

	return s.listener.Addr().(*net.TCPAddr).Port
}

// RunInProgressError is returned when a run is requested while another one
// is still active.
type RunInProgressError struct{}

func (e RunInProgressError) Error() string {
	return "a test run is already in progress"
}

// RunTests executes spec and blocks until the run finished or was
// cancelled.
func (s *Server) RunTests(ctx context.Context, spec model.RunSpecification) error {
	if s.isRunning() {
		return RunInProgressError{}
	}

	s.orchestrator.Run(ctx, spec)

	return nil
}

// StartRun executes spec in the background and returns the state the run
// started in.
func (s *Server) StartRun(spec model.RunSpecification) (runstate.State, error) {
	if s.isRunning() {
		return nil, RunInProgressError{}
	}

	s.runs.Add(1)

	done, ok := s.orchestrator.Start(context.Background(), spec)
	if !ok {
		s.runs.Done()
		return nil, RunInProgressError{}
	}

	go func() {
		defer s.runs.Done()

		<-done
	}()

	return runstate.RunningTests{}, nil
}

// CancelRun asks the active run to stop after the current test. It
// returns false when nothing is running.
func (s *Server) CancelRun() bool {
	return s.state.Cancel()
}

// Upload submits the pending measurements selected by filter and blocks
// until done.
func (s *Server) Upload(ctx context.Context, filter model.MeasurementsFilter) runstate.UploadState {
	return s.uploader.Run(ctx, filter)
}

// StartUpload uploads the pending measurements selected by filter in the
// background.
func (s *Server) StartUpload(filter model.MeasurementsFilter) {
	s.runs.Add(1)

	go func() {
		defer s.runs.Done()

		s.uploader.Run(context.Background(), filter)
	}()
}

// State returns the current background state.
func (s *Server) State() runstate.State {
	return s.state.State()
}

// ObserveState emits the background state whenever it changes until ctx
// is done.
func (s *Server) ObserveState(ctx context.Context) <-chan runstate.State {
	return s.state.Observe(ctx)
}

// RunErrors emits the errors reported by runs until ctx is done.
func (s *Server) RunErrors(ctx context.Context) <-chan model.TestRunError {
	return s.state.Errors(ctx)
}

func (s *Server) Settings() *settings.Store {
	return s.settings
}

func (s *Server) Descriptors() *descriptor.Catalog {
	return s.catalog
}

func (s *Server) isRunning() bool {
	switch s.state.State().(type) {
	case runstate.RunningTests, runstate.Stopping:
		return true
	case runstate.Idle, runstate.UploadingMissingResults:
	}

	return false
}

// Shutdown cancels the active run, waits for background work and hooks to
// finish and closes the storage.
func (s *Server) Shutdown() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("unable to shut down http server", "error", err)
		}
	}

	if s.state != nil {
		s.state.Cancel()
	}

	s.runs.Wait()

	if s.hookManager != nil {
		<-s.hookManager.Shutdown().Done()
	}

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.log.Warn("unable to close storage", "error", err)
		}
	}
}
