// Command surveilled runs the restaurant surveillance appliance: a
// scheduled capture service, an overnight processing dispatcher, and a
// cloud replication pipeline, controlled via start/stop/status/restart.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aseofsmartice/surveillance/internal/api"
	"github.com/aseofsmartice/surveillance/internal/bus"
	"github.com/aseofsmartice/surveillance/internal/capture"
	"github.com/aseofsmartice/surveillance/internal/cloudsync"
	"github.com/aseofsmartice/surveillance/internal/config"
	"github.com/aseofsmartice/surveillance/internal/diskmon"
	"github.com/aseofsmartice/surveillance/internal/dispatch"
	"github.com/aseofsmartice/surveillance/internal/events"
	"github.com/aseofsmartice/surveillance/internal/gpu"
	"github.com/aseofsmartice/surveillance/internal/index"
	"github.com/aseofsmartice/surveillance/internal/logging"
	"github.com/aseofsmartice/surveillance/internal/service"
	"github.com/aseofsmartice/surveillance/internal/store"
)

// Exit codes: 0 success, 1 failure, 2 an instance is already running.
const (
	exitOK             = 0
	exitError          = 1
	exitAlreadyRunning = 2
)

const defaultConfigPath = "/opt/surveillance/config/settings.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("surveilled", flag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath, "settings file path")
	if err := flags.Parse(args); err != nil {
		return exitError
	}

	command := "start"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveilled: %v\n", err)
		return exitError
	}

	switch command {
	case "start":
		return cmdStart(cfg)
	case "stop":
		return cmdStop(cfg)
	case "status":
		return cmdStatus(cfg)
	case "restart":
		if code := cmdStop(cfg); code == exitError {
			// Not running is fine for a restart.
			fmt.Fprintln(os.Stderr, "surveilled: no running instance, starting fresh")
		}
		return cmdStart(cfg)
	default:
		fmt.Fprintf(os.Stderr, "surveilled: unknown command %q (start|stop|status|restart)\n", command)
		return exitError
	}
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.System.Root, "run", "surveilled.pid")
}

func cmdStart(cfg *config.Config) int {
	logs, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveilled: logging setup failed: %v\n", err)
		return exitError
	}
	defer logs.Close()
	logger := slog.Default().With("component", "main")

	pid := service.NewPIDFile(pidPath(cfg))
	if err := pid.Acquire(); err != nil {
		if errors.Is(err, service.ErrAlreadyRunning) {
			fmt.Fprintf(os.Stderr, "surveilled: %v\n", err)
			return exitAlreadyRunning
		}
		logger.Error("Cannot acquire pid file", "error", err)
		return exitError
	}
	// The pid file goes last: while it exists, state may be in flight.
	defer pid.Release()

	if err := service.Preflight(cfg); err != nil {
		logger.Error("Preflight failed", "error", err)
		return exitError
	}

	db, err := store.Open(store.DefaultConfig(cfg.DatabasePath()))
	if err != nil {
		logger.Error("Cannot open store", "error", err)
		return exitError
	}
	defer db.Close()

	migrator := store.NewMigrator(db)
	if err := migrator.Run(context.Background()); err != nil {
		logger.Error("Migrations failed", "error", err)
		return exitError
	}
	if status, err := migrator.GetStatus(context.Background()); err == nil && len(status) > 0 {
		last := status[len(status)-1]
		logger.Info("Schema ready", "version", last.Version, "name", last.Name)
	}

	// A store migrated from an older deployment knows its location even
	// when the settings file does not.
	if cfg.System.LocationID == "" {
		if id, err := db.FirstLocationID(context.Background()); err == nil && id != "" {
			cfg.System.LocationID = id
			logger.Info("Location id taken from store", "location", id)
		}
	}

	// Best-effort subsystems: the bus and the drift watcher are aids,
	// not prerequisites for capturing footage.
	var pub bus.Publisher
	eventBus, err := bus.New(bus.Config{Port: cfg.Bus.Port})
	if err != nil {
		logger.Warn("Event bus unavailable, continuing without it", "error", err)
	} else {
		pub = eventBus
		defer eventBus.Stop()
	}

	if closeWatch, err := cfg.WatchDrift(logger); err != nil {
		logger.Warn("Config drift watcher unavailable", "error", err)
	} else {
		defer closeWatch()
	}

	var replicator *cloudsync.Replicator
	client, ok := cloudsync.NewHTTPClientFromEnv(time.Duration(cfg.Sync.TimeoutSeconds) * time.Second)
	if ok {
		replicator = cloudsync.NewReplicator(cfg.Sync, db, client, cfg.System.LocationID, pub)
	} else {
		logger.Warn("Cloud replication disabled",
			"reason", "endpoint not configured",
			"url_env", cloudsync.EnvCloudURL, "key_env", cloudsync.EnvCloudKey)
	}

	runner := &dispatch.ExecRunner{
		Argv:    cfg.Processing.Runner,
		Timeout: time.Duration(cfg.Processing.JobTimeoutSeconds) * time.Second,
	}
	buffer := events.NewBuffer(db, cfg.Sync.EventBatchSize)
	controller := service.NewController(cfg, service.Deps{
		DB:         db,
		Supervisor: capture.NewSupervisor(cfg, pub),
		Dispatcher: dispatch.NewDispatcher(cfg, db, runner, buffer, pub),
		Scanner:    index.NewScanner(cfg.VideoRoot()),
		Buffer:     buffer,
		Replicator: replicator,
		Monitor:    diskmon.NewMonitor(cfg.Retention, cfg.System.Root),
		Sampler:    gpu.NewNVIDIASampler(),
		Bus:        eventBus,
	})

	statusServer := api.NewServer(cfg.Status.Addr,
		api.NewStatusHandler(controller, logs.Buffer).Routes())
	statusServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Signal received, stopping", "signal", sig.String())
		cancel()
	}()

	logger.Info("Service starting",
		"location", cfg.System.LocationID,
		"cameras", len(cfg.EnabledCameras()),
		"capture_windows", cfg.Capture.Windows,
		"processing_window", cfg.Processing.Window)

	controller.Run(ctx)
	statusServer.Stop(context.Background())
	return exitOK
}

func cmdStop(cfg *config.Config) int {
	pid := service.NewPIDFile(pidPath(cfg))
	live, ok := pid.LivePID()
	if !ok {
		fmt.Fprintln(os.Stderr, "surveilled: not running")
		return exitError
	}

	proc, err := os.FindProcess(live)
	if err != nil || proc.Signal(syscall.SIGTERM) != nil {
		fmt.Fprintf(os.Stderr, "surveilled: cannot signal pid %d\n", live)
		return exitError
	}

	// The shutdown sequence finalizes segments and runs a last sync;
	// give it room before declaring failure.
	deadline := time.Now().Add(3 * time.Minute)
	for time.Now().Before(deadline) {
		if _, ok := pid.LivePID(); !ok {
			fmt.Println("surveilled: stopped")
			return exitOK
		}
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "surveilled: pid %d did not exit\n", live)
	return exitError
}

func cmdStatus(cfg *config.Config) int {
	pid := service.NewPIDFile(pidPath(cfg))
	live, ok := pid.LivePID()
	if !ok {
		fmt.Println("surveilled: not running")
		return exitError
	}

	resp, err := http.Get("http://" + cfg.Status.Addr + "/status")
	if err != nil {
		fmt.Printf("surveilled: running (pid %d), status endpoint unreachable: %v\n", live, err)
		return exitOK
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fmt.Printf("surveilled: running (pid %d)\n", live)
		return exitOK
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}
	return exitOK
}
