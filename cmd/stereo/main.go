package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/camera/gstcam"
	"github.com/banshee-data/stereo.depth/internal/config"
	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/fsutil"
	"github.com/banshee-data/stereo.depth/internal/logsink"
	"github.com/banshee-data/stereo.depth/internal/monitor"
	"github.com/banshee-data/stereo.depth/internal/pipeline"
	"github.com/banshee-data/stereo.depth/internal/runstore"
	"github.com/banshee-data/stereo.depth/internal/timeutil"
	"github.com/banshee-data/stereo.depth/internal/trigger"
	"github.com/banshee-data/stereo.depth/internal/version"
)

// devShift is the disparity, in pixels, between neighbouring synthetic
// pattern devices.
const devShift = 8

var (
	configPath        = flag.String("config", "", "Path to stereo JSON config (defaults apply when empty)")
	calibPath         = flag.String("calib", "calibration.json", "Path to stereo calibration JSON")
	sources           = flag.String("sources", "", "Comma-separated device indices or pipeline strings (overrides config)")
	dbPath            = flag.String("db", "stereo_runs.db", "SQLite run log (empty disables)")
	listen            = flag.String("listen", ":8090", "Debug HTTP listen address (empty disables)")
	triggerPort       = flag.String("trigger-port", "", "Serial port for the hardware trigger (overrides config)")
	snapshotDir       = flag.String("snapshot-dir", "", "Directory for periodic PNG snapshots")
	allowUncalibrated = flag.Bool("allow-uncalibrated", false, "Capture without disparity when no calibration loads")
	black             = flag.Bool("black", false, "Feed black frames instead of capturing")
	devMode           = flag.Bool("dev", false, "Use synthetic pattern cameras and an ideal calibration")
	background        = flag.Bool("background", false, "Capture on a background poller and process the latest frames")
	logFile           = flag.String("log-file", "", "Append log lines to this file")
	logLevel          = flag.String("log-level", "info", "Minimum log level: debug, info, warning, error, critical")
	historySize       = flag.Int("history", 600, "Cycles kept for the debug charts")
	showVersion       = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level, err := logsink.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid -log-level: %v", err)
	}
	sink, err := logsink.Open(*logFile, os.Stderr, level)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	wireLogs(sink)
	log.SetFlags(0)
	log.SetOutput(sink.Writer(logsink.Info))

	err = run()
	if err != nil {
		sink.Logf(logsink.Critical, "stereo", "%v", err)
	}
	if cerr := sink.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "log sink: %v\n", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// wireLogs points every package's ops/diag/trace streams at the sink.
func wireLogs(sink *logsink.Sink) {
	st := sink.Streams()
	for _, set := range []func(ops, diag, trace io.Writer){
		calibration.SetLogWriters,
		camera.SetLogWriters,
		gstcam.SetLogWriters,
		disparity.SetLogWriters,
		pipeline.SetLogWriters,
		runstore.SetLogWriters,
		trigger.SetLogWriters,
		monitor.SetLogWriters,
	} {
		set(st.Ops, st.Diag, st.Trace)
	}
}

func loadConfig() (*config.StereoConfig, error) {
	cfg := config.EmptyStereoConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadStereoConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *sources != "" {
		cfg.Sources = nil
		for _, s := range strings.Split(*sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Sources = append(cfg.Sources, s)
			}
		}
	}
	if *triggerPort != "" {
		cfg.TriggerPort = triggerPort
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	clock := timeutil.RealClock{}

	opener := camera.Opener(gstcam.Open)
	if *devMode {
		opener = camera.PatternOpener(devShift)
	}
	camCfg, err := camera.ConfigFromStereo(cfg, opener, nil)
	if err != nil {
		return err
	}
	camCfg.Clock = clock
	// Calibration describes the frames after capture transforms.
	outW, outH := camCfg.OutputSize()

	calib, err := calibration.Resolve(fsutil.OSFileSystem{}, *calibPath, calibration.ResolveOptions{
		Width:             outW,
		Height:            outH,
		Ideal:             *devMode,
		AllowUncalibrated: *allowUncalibrated,
	})
	if err != nil {
		return fmt.Errorf("calibration: %w (use -allow-uncalibrated to capture only)", err)
	}

	var trig camera.Trigger
	if cfg.GetTriggerPort() != "" && !*devMode {
		serialTrig, err := trigger.Open(cfg.GetTriggerPort(),
			trigger.PortOptions{BaudRate: cfg.GetTriggerBaud()}, cfg.GetTriggerCommand(), trigger.OpenSerialPort)
		if err != nil {
			return err
		}
		defer serialTrig.Close()
		trig = serialTrig
	}

	camCfg.Trigger = trig
	srcs := camera.SourcesFromStereo(cfg)
	array, err := camera.Open(srcs, camCfg)
	if err != nil {
		return err
	}
	defer array.Close()

	params := disparity.ParamsFromConfig(cfg)
	est, rect, err := pipeline.NewEstimator(cfg.GetStrategy(), params, cfg.Baselines, calib, array.Len())
	if err != nil {
		return err
	}

	history := monitor.NewHistory(*historySize)
	sinks := []pipeline.Sink{history}

	if *snapshotDir != "" && cfg.GetSnapshotEvery() > 0 {
		snap, err := pipeline.NewSnapshotSink(fsutil.OSFileSystem{}, *snapshotDir, cfg.GetSnapshotEvery())
		if err != nil {
			return err
		}
		sinks = append(sinks, snap)
	}

	var store *runstore.Store
	var recorder *runstore.Run
	if *dbPath != "" {
		if store, err = runstore.Open(*dbPath); err != nil {
			return err
		}
		defer store.Close()
		names := make([]string, len(srcs))
		for i, s := range srcs {
			names[i] = s.String()
		}
		info := runstore.RunInfo{
			Sources:    names,
			Width:      outW,
			Height:     outH,
			FPS:        cfg.GetFPS(),
			Strategy:   cfg.GetStrategy(),
			Calibrated: calib != nil,
		}
		if est != nil {
			info.Params = params
		}
		if recorder, err = store.StartRun(info, clock.Now()); err != nil {
			return err
		}
		sinks = append(sinks, recorder)
	}

	p, err := pipeline.New(pipeline.Config{
		Array:          array,
		Rectifier:      rect,
		Estimator:      est,
		CaptureTimeout: cfg.GetCaptureTimeout(),
		MaxFrameRate:   cfg.GetMaxFrameRate(),
		Black:          *black,
		Background:     *background,
		Clock:          clock,
		Sinks:          sinks,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if *listen != "" {
		mux := http.NewServeMux()
		debug := tsweb.Debugger(mux)
		debug.KV("Version", version.String())
		monitor.NewServer(p, history).Attach(debug)
		if store != nil {
			if err := store.AttachAdminRoutes(debug); err != nil {
				return err
			}
		}
		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("debug server: %v", err)
				stop()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown: %v", err)
			}
		}()
		log.Printf("debug pages on http://%s/debug/", *listen)
	}

	mode := "capture-only"
	if est != nil {
		mode = cfg.GetStrategy()
	}
	log.Printf("stereo %s: %d sources, %dx%d, %s", version.Version, array.Len(), cfg.GetWidth(), cfg.GetHeight(), mode)

	runErr := p.Run(ctx)
	stop()
	wg.Wait()

	st := p.Stats()
	log.Printf("stopped after %d cycles (%d computed, %d capture failures)", st.Cycles, st.Computed, st.CaptureFailures)
	if recorder != nil {
		if err := recorder.Finish(clock.Now(), runErr); err != nil {
			log.Printf("finish run: %v", err)
		}
	}
	return runErr
}
