package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/tesso57/websubd/internal/application/usecase"
	"github.com/tesso57/websubd/internal/config"
	"github.com/tesso57/websubd/internal/infrastructure/feed"
	"github.com/tesso57/websubd/internal/infrastructure/hub"
	"github.com/tesso57/websubd/internal/infrastructure/processor"
	"github.com/tesso57/websubd/internal/infrastructure/store"
	"github.com/tesso57/websubd/internal/observability/logging"
	"github.com/tesso57/websubd/internal/presentation/httpapi"
)

var cli struct {
	Config string `help:"Path to the config file." type:"path"`

	Serve struct {
		SweepEvery time.Duration `help:"Also run the renewal sweep on this interval (0 disables; prefer cron in multi-instance setups)." default:"0"`
	} `cmd:"" help:"Run the callback server."`

	Sweep struct{} `cmd:"" help:"Run one renewal sweep and exit."`

	Subscribe struct {
		Topic string `arg:"" help:"Feed URL to watch."`
		Hub   string `arg:"" help:"Hub URL the feed announces."`
	} `cmd:"" help:"Request a subscription from a hub."`

	Unsubscribe struct {
		Topic string `arg:"" help:"Feed URL to drop."`
		Hub   string `arg:"" help:"Hub URL the subscription went through."`
	} `cmd:"" help:"Ask the hub to stop pushing a topic."`

	Debug struct {
		Action string `arg:"" enum:"check,process,verify" help:"check, process or verify."`
		Topic  string `arg:"" help:"Feed URL to inspect."`
	} `cmd:"" help:"Run an operator diagnostic against a topic."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("websubd"),
		kong.Description("WebSub subscriber daemon for feed aggregators."))

	cfg, err := config.LoadConfig(cli.Config)
	kctx.FatalIfErrorf(err)
	kctx.FatalIfErrorf(cfg.Validate())

	logging.Init(cfg.LogLevel)
	defer func() { _ = zap.S().Sync() }()
	logger := zap.S()

	st, err := store.Open(cfg.DBPath)
	kctx.FatalIfErrorf(err)
	defer func() { _ = st.Close() }()

	manager := usecase.NewManager(
		st,
		hub.NewClient(cfg.HubTimeout),
		feed.NewFetcher(cfg.FeedTimeout),
		processor.New(st),
		cfg.CallbackURL(),
		cfg.LeaseSeconds,
	)
	sweep := usecase.NewSweep(st, manager, cfg.RenewalWindow, cfg.SweepDelay, cfg.VerifyTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "serve":
		logger.Infow("starting websubd", "listen", cfg.Listen, "callback", cfg.CallbackURL())
		if cli.Serve.SweepEvery > 0 {
			go runSweepLoop(ctx, sweep, cli.Serve.SweepEvery)
		}
		srv := httpapi.NewServer(cfg.Listen, httpapi.NewHandler(manager))
		if err := srv.Run(ctx); err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	case "sweep":
		if _, err := sweep.Run(ctx); err != nil {
			logger.Fatalf("sweep failed: %v", err)
		}
	case "subscribe <topic> <hub>":
		if !manager.Subscribe(ctx, cli.Subscribe.Topic, cli.Subscribe.Hub) {
			logger.Fatal("subscribe request failed")
		}
		logger.Infow("subscribe requested, waiting for hub verification",
			"topic", cli.Subscribe.Topic)
	case "unsubscribe <topic> <hub>":
		if !manager.Unsubscribe(ctx, cli.Unsubscribe.Topic, cli.Unsubscribe.Hub) {
			logger.Fatal("unsubscribe request failed")
		}
	case "debug <action> <topic>":
		runDebug(ctx, kctx, manager)
	}
}

func runSweepLoop(ctx context.Context, sweep *usecase.Sweep, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sweep.Run(ctx); err != nil {
				zap.S().Errorw("scheduled sweep failed", "err", err)
			}
		}
	}
}

func runDebug(ctx context.Context, kctx *kong.Context, manager *usecase.Manager) {
	var out any
	var err error
	switch cli.Debug.Action {
	case "check":
		out, err = manager.CheckFeedForUpdates(ctx, cli.Debug.Topic)
	case "process":
		out = manager.ManuallyProcessFeed(ctx, cli.Debug.Topic)
	case "verify":
		out, err = manager.VerifyInfo(ctx, cli.Debug.Topic)
	}
	kctx.FatalIfErrorf(err)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	kctx.FatalIfErrorf(enc.Encode(out))
}
