package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("voipfixd v%s\n", version)
	fmt.Println("VoIP and media audio recovery daemon for SM8350 devices")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  voipfixd [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that works around the SM8350 audio driver losing the voice path")
	fmt.Println("  during VoIP calls and media playback. It watches call, routing and")
	fmt.Println("  proximity state and issues corrective mode/volume/routing writes through")
	fmt.Println("  the platform audio bridge.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -bridge-ws-url string")
	fmt.Println("        Audio bridge websocket URL (default \"ws://127.0.0.1:8773\")")
	fmt.Println()
	fmt.Println("  -bridge-timeout-ms int")
	fmt.Printf("        Timeout for bridge responses in ms (default %d)\n", defaultBridgeTimeoutMS)
	fmt.Println()
	fmt.Println("  -poll-interval-ms int")
	fmt.Printf("        Audio state poll cadence in ms (default %d)\n", defaultPollIntervalMS)
	fmt.Println()
	fmt.Println("  -proximity-device string")
	fmt.Println("        Proximity sensor evdev node (empty disables media routing fix)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/voipfixd.sock\")")
	fmt.Println()
	fmt.Println("  -state-ws-port int")
	fmt.Println("        Local port for the state websocket, 0 disables (default 3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Rotated log file path (empty logs to stderr only)")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start daemon with default settings")
	fmt.Println("  voipfixd")
	fmt.Println()
	fmt.Println("  # Use a config file with a flag override for debugging")
	fmt.Println("  voipfixd -config /etc/voipfixd.yaml -log-level debug")
	fmt.Println()
	fmt.Println("  # Enable the proximity-driven media routing fix")
	fmt.Println("  voipfixd -proximity-device /dev/input/event2")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The audio bridge must be running and reachable at -bridge-ws-url")
	fmt.Println("  - Reading the proximity device requires access to /dev/input (input group)")
	fmt.Println("  - Call boundaries are detected from the polled audio mode; the telephony")
	fmt.Println("    hook via voipfix-ctl makes detection immediate but is optional")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		bridgeWsURL     = flag.String("bridge-ws-url", "", "Audio bridge websocket URL")
		bridgeTimeoutMS = flag.Int("bridge-timeout-ms", 0, "Timeout for bridge responses in ms")
		pollIntervalMS  = flag.Int("poll-interval-ms", 0, "Audio state poll cadence in ms")
		proximityDevice = flag.String("proximity-device", "", "Proximity sensor evdev node")
		ipcSocketPath   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		stateWSPort     = flag.Int("state-ws-port", 0, "Local port for the state websocket")
		logLevelStr     = flag.String("log-level", "", "Log level: error, warn, info, debug")
		logFile         = flag.String("log-file", "", "Rotated log file path")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags the user actually passed override the file.
	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bridge-ws-url":
			overrides.BridgeWsURL = bridgeWsURL
		case "bridge-timeout-ms":
			overrides.BridgeTimeoutMS = bridgeTimeoutMS
		case "poll-interval-ms":
			overrides.PollIntervalMS = pollIntervalMS
		case "proximity-device":
			overrides.ProximityDevice = proximityDevice
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "state-ws-port":
			overrides.StateWSPort = stateWSPort
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "log-file":
			overrides.LogFile = logFile
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger, logCloser := setupLogger(logLevel, cfg.Logging)
	defer logCloser.Close()

	router, err := NewAudioBridgeClient(cfg.Bridge.WsURL, logger, cfg.Bridge.TimeoutMS)
	if err != nil {
		logger.Error("failed to connect to audio bridge", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Central event bus: IPC, proximity, websocket snapshot requests and
	// scheduler steps all feed the daemon through this channel.
	events := make(chan Event, 64)
	broadcasts := make(chan StateBroadcast, 64)

	sched := NewScheduler(func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer sched.StopAll()

	state := NewControllerState()
	recoveryCfg := cfg.ToRecoveryConfig()
	pollInterval := time.Duration(cfg.Poll.IntervalMS) * time.Millisecond

	logger.Info("starting voipfixd",
		"version", version,
		"bridge_ws", cfg.Bridge.WsURL,
		"poll_interval_ms", cfg.Poll.IntervalMS,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_port", cfg.StateWS.Port,
		"proximity_device", cfg.Proximity.Device)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runDaemon(gctx, events, router, sched, recoveryCfg, state, pollInterval, broadcasts, logger)
		return nil
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if cfg.StateWS.Port > 0 {
		server := NewServer(logger, events, ServerConfig{})
		hub := server.Hub()

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, hub, broadcasts, logger)
			return nil
		})

		mux := http.NewServeMux()
		server.Register(mux, "/ws/state")
		httpServer := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.StateWS.Port),
			Handler: mux,
		}

		g.Go(func() error {
			err := httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.Proximity.Device != "" {
		g.Go(func() error {
			return runProximityReader(gctx, cfg.Proximity.Device, events, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
