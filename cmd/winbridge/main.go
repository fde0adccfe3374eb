package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"winbridge/internal/gamepad"
	"winbridge/internal/ipc"
	"winbridge/internal/winhandler"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("winbridge v%s\n", version)
	fmt.Println("Host side of the loopback control channel to a Windows compatibility layer")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  winbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that exchanges datagrams with a helper inside the Windows")
	fmt.Println("  environment: it launches and manages processes, injects mouse and")
	fmt.Println("  keyboard input, and serves the host's gamepad to the guest.")
	fmt.Println("  Local tools drive it over a Unix socket (see winbridge-ctl).")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -listen-addr string")
	fmt.Printf("        Local UDP address of the channel (default \"127.0.0.1:%d\")\n", winhandler.DefaultServerPort)
	fmt.Println()
	fmt.Println("  -peer-host string")
	fmt.Println("        Host of the peer helper (default \"localhost\")")
	fmt.Println()
	fmt.Println("  -peer-port int")
	fmt.Printf("        UDP port of the peer helper (default %d)\n", winhandler.DefaultClientPort)
	fmt.Println()
	fmt.Println("  -mapper string")
	fmt.Println("        Gamepad mapper type reported to the peer: standard|xinput (default \"standard\")")
	fmt.Println()
	fmt.Println("  -gamepad")
	fmt.Println("        Serve the first joystick device to the peer (default true)")
	fmt.Println()
	fmt.Println("  -js-dir string")
	fmt.Println("        Directory holding js* joystick nodes (default \"/dev/input\")")
	fmt.Println()
	fmt.Println("  -profile string")
	fmt.Println("        Container profile YAML enabling the virtual gamepad")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/winbridge.sock\")")
	fmt.Println()
	fmt.Println("  -ws-addr string")
	fmt.Println("        Address of the websocket state feed, empty disables (default \"127.0.0.1:7948\")")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults")
	fmt.Println("  winbridge")
	fmt.Println()
	fmt.Println("  # XInput mapping with an on-screen controller profile")
	fmt.Println("  winbridge -mapper xinput -profile ~/.config/winbridge/profile.yaml")
	fmt.Println()
}

func main() {
	var (
		configPath     = flag.String("config", "", "Path to YAML config file")
		listenAddr     = flag.String("listen-addr", "", "Local UDP address of the channel")
		peerHost       = flag.String("peer-host", "", "Host of the peer helper")
		peerPort       = flag.Int("peer-port", 0, "UDP port of the peer helper")
		mapper         = flag.String("mapper", "", "Gamepad mapper type: standard|xinput")
		gamepadEnabled = flag.Bool("gamepad", true, "Serve the first joystick device to the peer")
		jsDir          = flag.String("js-dir", "", "Directory holding js* joystick nodes")
		profilePath    = flag.String("profile", "", "Container profile YAML")
		ipcSocket      = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		wsAddr         = flag.String("ws-addr", "", "Address of the websocket state feed")
		logLevelStr    = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion    = flag.Bool("version", false, "Print version and exit")
		showHelp       = flag.Bool("help", false, "Print help message")
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

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-addr":
			o.ListenAddr = listenAddr
		case "peer-host":
			o.PeerHost = peerHost
		case "peer-port":
			o.PeerPort = peerPort
		case "mapper":
			o.Mapper = mapper
		case "gamepad":
			o.GamepadEnabled = gamepadEnabled
		case "js-dir":
			o.GamepadDir = jsDir
		case "profile":
			o.ProfilePath = profilePath
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "ws-addr":
			o.StateWSAddr = wsAddr
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("winbridge exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("winbridge stopped")
}

// run wires the channel to its collaborators and surfaces and blocks until
// ctx ends or a component fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	profiles, err := gamepad.OpenProfileStore(ExpandPath(cfg.Profile.Path), logger.With("component", "profile"))
	if err != nil {
		return err
	}

	var scanner *gamepad.Scanner
	if cfg.Gamepad.Enabled {
		scanner = gamepad.NewScanner(cfg.ScannerConfig(), logger.With("component", "joystick"))
		defer scanner.Close()
	}

	events := make(chan winhandler.Event, 64)

	hcfg := cfg.HandlerConfig()
	hcfg.Profile = profiles
	if scanner != nil {
		hcfg.Gamepads = scanner
	}
	hcfg.Observer = func(ev winhandler.Event) {
		select {
		case events <- ev:
		default:
			logger.Warn("event queue full, dropping", "event", ev.String())
		}
	}

	channel := winhandler.New(hcfg, logger.With("component", "winhandler"))

	g, gctx := errgroup.WithContext(ctx)

	if err := channel.Start(gctx); err != nil {
		return fmt.Errorf("start channel: %w", err)
	}

	// The channel also stops itself on a fatal receive error.
	g.Go(func() error {
		channel.Wait()
		if gctx.Err() == nil {
			return errors.New("channel stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		waitCtx, cancel := context.WithTimeout(gctx, 30*time.Second)
		defer cancel()
		if err := channel.WaitReady(waitCtx); err != nil {
			logger.Info("peer has not completed the handshake yet", "error", err)
			return nil
		}
		logger.Info("peer handshake complete")
		return nil
	})

	if scanner != nil {
		g.Go(func() error {
			if err := scanner.Run(gctx); err != nil {
				logger.Warn("joystick hotplug disabled", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			return runGamepadPoller(gctx, channel, func() winhandler.Gamepad {
				if d := scanner.Current(); d != nil {
					return d
				}
				return nil
			}, cfg.PollInterval())
		})
	}

	g.Go(func() error {
		if err := profiles.Watch(gctx); err != nil {
			logger.Warn("profile watch disabled", "error", err)
		}
		return nil
	})

	applier := &requestApplier{
		channel:     channel,
		pad:         profiles,
		listTimeout: cfg.ListTimeout(),
		logger:      logger.With("component", "ipc"),
	}
	g.Go(func() error {
		return ipc.Serve(gctx, ExpandPath(cfg.IPC.SocketPath), applier.apply, logger.With("component", "ipc"))
	})

	if cfg.StateWS.Addr != "" {
		runStateFeed(gctx, g, cfg.StateWS, channel.Status, events, logger.With("component", "state_ws"))
	} else {
		// Keep draining so the observer never drops for lack of a reader.
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-events:
				}
			}
		})
	}

	return g.Wait()
}

func runStateFeed(ctx context.Context, g *errgroup.Group, cfg StateWSConfig, snapshot func() winhandler.Status, events <-chan winhandler.Event, logger *slog.Logger) {
	server := NewServer(logger, snapshot, HubConfig{})
	mux := http.NewServeMux()
	server.Register(mux, cfg.Path)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		server.Hub().Run(ctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(ctx, server.Hub(), events, logger)
		return nil
	})
	g.Go(func() error {
		logger.Info("state feed listening", "addr", cfg.Addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("state feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})
}
