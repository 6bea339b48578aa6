package main

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"commerce-service/internal/account"
	"commerce-service/internal/catalog"
	"commerce-service/internal/chat"
	"commerce-service/internal/handler"
	"commerce-service/internal/ops"
	"commerce-service/internal/order"
	"commerce-service/internal/presence"
	"commerce-service/internal/server"
	"commerce-service/internal/stats"
	"commerce-service/pkg/jwtutil"
	"commerce-service/pkg/logger"
	metrics "commerce-service/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shop server and the ops endpoints",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting "+serviceName, cfg.LogConfig()...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(cfg.Metrics.Prefix, reg)
	log.Info("Prometheus metrics initialized", zap.String("metrics_prefix", cfg.Metrics.Prefix))

	s, err := openStore(cfg, m, log)
	if err != nil {
		log.Error("Failed to open store", zap.Error(err))
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.Migrate(ctx); err != nil {
		log.Error("Migration failed", zap.Error(err))
		return err
	}

	online := presence.NewRegistry(log, m.OnlineUsers)
	defer online.Close()

	jwt := jwtutil.NewJWTUtil(&cfg.JWT)
	admin := cfg.Shop.AdminUsername

	h := handler.New(handler.Deps{
		Accounts:    account.NewService(s, admin, log),
		Catalog:     catalog.NewService(s, log),
		Orders:      order.NewService(s, m, log),
		Chat:        chat.NewService(s, online, admin, m, log),
		Stats:       stats.NewService(s, log),
		Presence:    online,
		JWT:         jwt,
		Metrics:     m,
		DedupWindow: cfg.Server.DedupWindow,
		Log:         log,
	})

	shop := server.New(server.Config{
		Addr:           net.JoinHostPort("", cfg.Server.Port),
		MaxFrameBytes:  cfg.Server.MaxFrameBytes,
		OutboundBuffer: cfg.Server.OutboundBuffer,
	}, h, m, log)

	opsServer := ops.New(net.JoinHostPort("", cfg.Server.OpsPort), ops.Deps{
		Service:  serviceName,
		Store:    s,
		Presence: online,
		JWT:      jwt,
		Metrics:  m,
		Gatherer: reg,
		Log:      log,
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return shop.ListenAndServe(gCtx) })
	g.Go(func() error { return opsServer.Run(gCtx) })
	g.Go(func() error { return logger.WatchLevel(gCtx, cfg.Log.EnvFile) })

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	log.Info("Shutdown complete")
	return nil
}
