// license-agent activates a license for this machine and keeps it fresh
// with periodic revalidation and heartbeats. Installations embed the
// agent package directly; this binary exercises the same loop standalone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licensegate/internal/agent"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:8080", "license server base URL")
		licenseKey = flag.String("key", "", "license key to activate")
		domain     = flag.String("domain", "", "domain this installation serves")
		version    = flag.String("version", "1.0.0", "installed application version")
		cachePath  = flag.String("cache", defaultCachePath(), "verdict cache file path")
		interval   = flag.Duration("interval", time.Hour, "revalidation and heartbeat interval")
		deactivate = flag.Bool("deactivate", false, "release this machine's binding and exit")
	)
	flag.Parse()

	if *licenseKey == "" {
		fmt.Fprintln(os.Stderr, "usage: license-agent -key LICENSE-KEY [-server URL] [-domain DOMAIN]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	client := agent.NewClient(*serverURL, logger)
	cache := agent.NewCache(*cachePath, logger)

	a, err := agent.New(client, cache, *licenseKey, *domain, *version, logger)
	if err != nil {
		logger.Error("failed to create agent", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *deactivate {
		if err := a.Deactivate(ctx); err != nil {
			logger.Error("deactivation failed", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("license deactivated")
		return
	}

	state := a.Start(ctx)
	logger.Info("agent started", "state", string(state), "denial", a.Denial())
	if state == agent.StateBlocked {
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := client.Heartbeat(ctx, agent.HeartbeatRequest{
				LicenseKey: *licenseKey,
				HardwareID: a.HardwareID(),
				Domain:     *domain,
				Version:    *version,
			}); err != nil {
				logger.Warn("heartbeat failed", "error", err.Error())
			}

			state := a.Revalidate(ctx)
			logger.Info("revalidated", "state", string(state))
			if state == agent.StateBlocked {
				logger.Error("license blocked", "denial", a.Denial())
				os.Exit(1)
			}
		case <-sigChan:
			logger.Info("agent stopping")
			return
		}
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = "."
	}
	return dir + string(os.PathSeparator) + "license-verdict.json"
}
