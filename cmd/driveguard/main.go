// Command driveguard supervises the drive motors of a two-wheeled robot: it
// receives velocity commands over UDP, translates them into per-wheel
// setpoints, and kills the motors whenever commands stop arriving or a
// controller reports a fault.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/torqueworks/driveguard/internal/actuator"
	"github.com/torqueworks/driveguard/internal/api"
	"github.com/torqueworks/driveguard/internal/config"
	"github.com/torqueworks/driveguard/internal/encoder"
	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/serialmux"
	"github.com/torqueworks/driveguard/internal/teleop"
	"github.com/torqueworks/driveguard/internal/version"
	"github.com/torqueworks/driveguard/internal/watchdog"
)

var (
	configPath = flag.String("config", "", "Path to robot configuration JSON")
	devMode    = flag.Bool("dev", false, "Run with simulated motor controllers")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	udpListen  = flag.String("udp-listen", ":5230", "UDP listen address for velocity commands")
	dbFile     = flag.String("db", "driveguard.db", "Path to the event database")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("driveguard %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := &config.RobotConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load configuration: %v", err)
		}
	}

	var leftMux, rightMux serialmux.MuxInterface
	if *devMode {
		// simulated controllers: commands are logged, the status side emits
		// benign chatter so the fault monitors see a live stream
		leftMux = serialmux.NewMockMux("left", "OK", time.Second)
		rightMux = serialmux.NewMockMux("right", "OK", time.Second)
	} else {
		// a port path of "off" leaves that channel disconnected, for bench
		// setups with one controller unplugged
		open := func(name, path string) serialmux.MuxInterface {
			if path == "off" {
				return serialmux.NewDisabledMux(name)
			}
			m, err := serialmux.NewRealMux(name, path, cfg.GetSerial())
			if err != nil {
				log.Fatalf("failed to open %s controller port: %v", name, err)
			}
			return m
		}
		leftMux = open("left", cfg.GetLeftPort())
		rightMux = open("right", cfg.GetRightPort())
	}
	defer leftMux.Close()
	defer rightMux.Close()

	eventDB, err := eventlog.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open event database: %v", err)
	}
	defer eventDB.Close()

	// every event goes to the log stream and the database
	rec := eventlog.Tee(eventlog.LogRecorder{}, eventDB)

	pair := actuator.NewPair(
		actuator.NewSerialController(kinematics.Left, leftMux),
		actuator.NewSerialController(kinematics.Right, rightMux),
		cfg.GetControlMode(),
		rec,
	)

	commands := make(chan kinematics.VelocityCommand)
	loop := watchdog.New(watchdog.Config{
		Timeout: cfg.GetWatchdogTimeout(),
		Drive:   cfg.Kinematics(),
	}, nil, commands, pair, rec)

	source, err := teleop.NewSource(*udpListen, commands)
	if err != nil {
		log.Fatalf("failed to open teleop listener: %v", err)
	}
	defer source.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run a monitor routine per controller to manage IO on its serial port
	for _, m := range []serialmux.MuxInterface{leftMux, rightMux} {
		wg.Add(1)
		go func(m serialmux.MuxInterface) {
			defer wg.Done()
			if err := m.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("serial monitor failed: %v", err)
			}
		}(m)
	}

	// fault monitors watch the status streams and disable the pair on
	// emergency stop, rejected commands, or loss of the stream
	for _, fm := range []struct {
		channel kinematics.Channel
		mux     serialmux.MuxInterface
	}{
		{kinematics.Left, leftMux},
		{kinematics.Right, rightMux},
	} {
		id, lines := fm.mux.Subscribe()
		monitor := actuator.NewFaultMonitor(fm.channel, lines, pair, rec)
		wg.Add(1)
		go func(id string, mux serialmux.MuxInterface) {
			defer wg.Done()
			defer mux.Unsubscribe(id)
			if err := monitor.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("fault monitor stopped: %v", err)
			}
		}(id, fm.mux)
	}

	// motors come up before the first command so a fresh boot is drivable
	if err := pair.Initialize(); err != nil {
		log.Fatalf("motor initialization failed: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("control loop stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("teleop listener stopped: %v", err)
		}
	}()

	poller := encoder.NewPoller(cfg.GetEncoderPollInterval(), nil, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("encoder poller stopped: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (accessible only locally or over Tailscale)
		leftMux.AttachAdminRoutes(mux)
		rightMux.AttachAdminRoutes(mux)
		eventDB.AttachAdminRoutes(mux)

		// the API server registers its routes with full /api/ paths
		mux.Handle("/api/", api.NewServer(loop, pair, eventDB, cfg.Kinematics()).ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	// leave the motors stopped and disabled no matter how we exited
	if err := pair.Shutdown(); err != nil {
		log.Printf("final motor shutdown: %v", err)
	}
	log.Printf("graceful shutdown complete")
}
