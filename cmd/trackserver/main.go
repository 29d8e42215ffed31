package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/auth"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/config"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/httpmw"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/events"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/gateway"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/handler"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/ingest"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/registry"
	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/snapshot"
	"github.com/HasithaDN-dev/YathraGo-sub004/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("track-server")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "track-server")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("trackserver")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	var snapshots domain.SnapshotStore
	if redisClient != nil {
		snapshots = snapshot.NewRedisStore(redisClient, "", cfg.SnapshotTTL)
	}
	var publisher domain.EventPublisher
	if natsConn != nil {
		publisher = events.NewNATSPublisher(natsConn, cfg.StatusSubject, cfg.LocationSubject)
	} else {
		logger.Warn("event publishing disabled", zap.String("reason", "no nats connection"))
	}

	reg := registry.New(domain.SystemClock{}, logger.Named("registry"))
	gw := gateway.New(reg, snapshots, publisher, domain.SystemClock{}, logger.Named("gateway"), gateway.Config{
		GraceWindow:           cfg.GraceWindow,
		IdleEviction:          cfg.IdleEviction,
		SweepInterval:         cfg.SweepInterval,
		SamplePublishInterval: cfg.SamplePublishInterval,
	})

	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweep loop stopped", zap.Error(err))
		}
	}()

	ws := handler.NewWS(gw, reg, cfg.JWTSecret, cfg.SendQueue, logger.Named("ws"))
	admin := handler.NewAdmin(gw)

	limiter := httpmw.NewRateLimiter(redisClient, cfg.WSPath,
		httpmw.RateConfig{Rate: cfg.ConnectRate, Burst: cfg.ConnectBurst},
		httpmw.RateConfig{Rate: cfg.AdminRate, Burst: cfg.AdminBurst})

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(limiter.Middleware)
	r.Handle(cfg.WSPath, ws)
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret, "admin", "staff"))
		r.Mount("/", admin.Router())
	})
	r.Mount("/observability", observability.MetricsRouter(func(ctx context.Context) error {
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		grpcSrv := grpc.NewServer()
		ingest.RegisterIngestServer(grpcSrv, ingest.NewServer(gw, reg, logger.Named("ingest")))
		go func() {
			logger.Info("grpc ingest listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc server", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			grpcSrv.GracefulStop()
		}()
	}

	go func() {
		logger.Info("track server listening",
			zap.String("addr", srv.Addr),
			zap.String("ws_path", cfg.WSPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
