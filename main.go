package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"avmonitor/config"
	"avmonitor/control"
	"avmonitor/database"
	"avmonitor/detect"
	"avmonitor/device"
	"avmonitor/monitor"
	"avmonitor/platform"
	"avmonitor/process"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	db, err := database.NewDB(cfg.DataDir, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	gates := device.NewGates()
	authorizer := device.NewAuthorizer(gates, cfg.AudioPatterns, cfg.VideoPatterns)
	registry := process.NewRegistry()
	analyzer := process.NewAnalyzer(log)

	detector, err := detect.NewDetector(cfg.SigmaRulesDir, db, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load detection rules")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(ctx, log, db, registry, analyzer, authorizer, detector, monitor.Config{
		ProcessScanInterval:    cfg.ProcessScanInterval.Std(),
		NetworkScanInterval:    cfg.NetworkScanInterval.Std(),
		FilesystemScanInterval: cfg.FilesystemScanInterval.Std(),
		WatchPaths:             cfg.WatchPaths,
	})

	source, err := platform.NewSource(platform.SourceConfig{
		ObjectPath: cfg.BPFObject,
		MountPoint: cfg.MountPoint,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize event source")
	}

	api := control.NewServer(cfg.Listen, log, gates, db, mon)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			log.WithError(err).Error("Control API failed")
			stop()
		}
	}()

	go func() {
		if err := source.Run(ctx, mon); err != nil {
			log.WithError(err).Error("Event source stopped")
			stop()
		}
	}()

	log.Info("Activity monitor started")
	mon.Run()

	// Scanners have drained; tear down the outer surfaces.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Control API shutdown failed")
	}
	if err := source.Close(); err != nil {
		log.WithError(err).Warn("Event source close failed")
	}
	log.Info("Activity monitor stopped")
}
