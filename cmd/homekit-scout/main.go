package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/caarlos0/homekit-scout"
	"github.com/caarlos0/homekit-scout/bridge"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.Info(
		"homekit-scout",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Scout alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	caps, err := cfg.capabilities()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	log.Info(
		"loading accessories",
		"location", cfg.Location,
		"modes", cfg.modesString(),
		"triggerAlarmImmediately", cfg.TriggerAlarmImmediately,
		"reverseSensorState", cfg.ReverseSensorState,
	)

	cli := scout.New(cfg.Email, cfg.Password)
	listener := scout.NewListener(cli)

	platform, err := bridge.NewPlatform(bridge.PlatformConfig{
		Dir:      cfg.DB,
		Addr:     cfg.Address,
		Pin:      cfg.Pin,
		Name:     "Scout Bridge",
		Firmware: version,
	})
	if err != nil {
		log.Fatal("could not create platform", "err", err)
	}
	defer func() {
		if err := platform.Close(); err != nil {
			log.Error("could not close platform", "err", err)
		}
	}()

	rec := bridge.NewReconciler(
		cli, listener, platform, cfg.Location,
		bridge.NewHubSet(cli, listener, platform, caps),
		bridge.NewSensorSet(cli, listener, platform, caps),
	)
	if err := platform.Replay(rec.Restore); err != nil {
		log.Fatal("could not load cached accessories", "err", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	page := &statusPage{platform: platform, listener: listener}
	if err := rec.Run(ctx); err != nil {
		log.Error("could not sync accessories with scout, fix the configuration and restart", "err", err)
		page.err = err
	}

	platform.Handle("/metrics", promhttp.Handler())
	platform.Handle("/", page)

	if err := platform.Serve(ctx); err != nil {
		log.Error("failed to close server", "err", err)
	}
}
