package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/producer/internal/config"
	"github.com/tillu/branchbus/producer/internal/feed"
	"github.com/tillu/branchbus/producer/internal/kitchen"
	"github.com/tillu/branchbus/producer/internal/security"
	"github.com/tillu/branchbus/producer/internal/shipper"
)

// drainWait bounds how long the producer waits for buffered events after the
// feed ends.
const drainWait = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	exitAtEOF := flag.Bool("exit-at-eof", false, "exit once the feed is exhausted and the buffer drained")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("branchbus-producer starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	p := cfg.Producer
	level.Set(p.Level())
	slog.Info("config loaded",
		"server_endpoint", p.ServerEndpoint,
		"auth_mode", p.ServerAuth.Mode,
		"feed", p.Feed.Path,
		"urgent_after", p.Kitchen.UrgentAfter,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if p.ServerAuth.Mode == "mtls" {
		checkCerts(ctx, p)
	}

	engine := kitchen.NewEngine(settingsOf(p.Kitchen))

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Producer.Level())
			engine.SetSettings(settingsOf(updated.Producer.Kitchen))
			slog.Info("config hot-reloaded",
				"log_level", updated.Producer.LogLevel,
				"urgent_after", updated.Producer.Kitchen.UrgentAfter)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(p)
	go ship.Run(ctx)

	// Sweep loop: urgent orders and fresh kitchen metrics for busy branches.
	go func() {
		ticker := time.NewTicker(p.Kitchen.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				for _, e := range engine.Sweep(t) {
					ship.Ship(e)
				}
			}
		}
	}()

	src, err := feed.Open(p.Feed.Path)
	if err != nil {
		slog.Error("failed to open feed", "err", err)
		os.Exit(1)
	}
	defer src.Close()

	st, err := feed.Read(ctx, src, p.Feed.Interval, func(e events.Event) {
		ship.Ship(e)
		for _, derived := range engine.Process(e, time.Now()) {
			ship.Ship(derived)
		}
	})
	if err != nil {
		slog.Error("feed stopped", "err", err)
	}
	slog.Info("feed finished",
		"lines", st.Lines, "events", st.Events, "invalid", st.Invalid)

	if *exitAtEOF {
		deadline := time.Now().Add(drainWait)
		for ship.Pending() > 0 && time.Now().Before(deadline) && ctx.Err() == nil {
			time.Sleep(50 * time.Millisecond)
		}
		cancel()
	}

	<-ctx.Done()
	s := ship.Stats()
	slog.Info("branchbus-producer shutting down",
		"shipped", s.Shipped, "evicted", s.Evicted, "discarded", s.Discarded, "pending", ship.Pending())
}

func settingsOf(k config.KitchenConfig) kitchen.Settings {
	return kitchen.Settings{
		UrgentAfter: k.UrgentAfter,
		Capacity:    k.Capacity,
		TargetWait:  k.TargetWait,
	}
}

// checkCerts logs the expiry of the client certificate and of the
// certificate the server presents.
func checkCerts(ctx context.Context, p config.ProducerConfig) {
	if cs, err := security.CheckFile(p.ServerAuth.CertFile); err != nil {
		slog.Warn("cannot inspect client certificate", "err", err)
	} else {
		logCert("client", cs)
	}

	tlsCfg, err := shipper.TLSConfig(p.ServerAuth)
	if err != nil {
		slog.Warn("cannot build TLS config", "err", err)
		return
	}
	logCert("server", security.Check(ctx, p.ServerEndpoint, tlsCfg))
}

func logCert(which string, cs security.CertStatus) {
	attrs := []any{"cert", which, "endpoint", cs.Endpoint, "status", cs.Status, "days_left", cs.DaysLeft}
	switch cs.Status {
	case "valid":
		slog.Info("certificate checked", attrs...)
	default:
		slog.Warn("certificate needs attention", attrs...)
	}
}
