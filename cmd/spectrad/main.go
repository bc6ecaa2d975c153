// spectrad serves spectrometers to network clients.
//
// Usage:
//
//	spectrad [-config path] [-log-level level] [-simulate n]
//
// The configuration file is created on shutdown if it does not exist. SPECTRAD_* environment
// variables override the daemon section of the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-spectrad/config"
	"github.com/arloliu/go-spectrad/daemon"
	"github.com/arloliu/go-spectrad/hardware/sim"
	"github.com/arloliu/go-spectrad/logger"
)

func main() {
	configPath := flag.String("config", "spectrad.yaml", "configuration file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides the config)")
	simulate := flag.Int("simulate", -1, "number of simulated spectrometers (overrides the config)")
	version := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *version {
		fmt.Println(daemon.Version)
		return
	}

	if err := run(*configPath, *logLevel, *simulate); err != nil {
		fmt.Fprintln(os.Stderr, "spectrad:", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string, simulate int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dc := cfg.Daemon()
	if logLevel != "" {
		dc.LogLevel = logLevel
	}
	if simulate >= 0 {
		dc.Simulate = simulate
	}

	level, err := logger.ParseLevel(dc.LogLevel)
	if err != nil {
		return err
	}
	log := logger.NewSlog(level, false)
	logger.SetLogger(log)

	// only the simulated driver is built in
	n := dc.Simulate
	if n == 0 {
		n = 1
		log.Warn("no spectrometer driver configured, serving one simulated device")
	}
	drv := sim.NewDefaultDriver(n)

	d := daemon.New(cfg, drv, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	log.Info("spectrad running", "config", cfg.Path(), "address", d.Addr().String())

	<-ctx.Done()
	log.Info("shutting down", "cause", context.Cause(ctx))

	return d.Shutdown()
}
