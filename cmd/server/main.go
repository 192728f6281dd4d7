package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/minhngt/canteen-core/internal/adapter/events"
	"github.com/minhngt/canteen-core/internal/adapter/handler"
	"github.com/minhngt/canteen-core/internal/adapter/storage"
	"github.com/minhngt/canteen-core/internal/core/service"
	"github.com/minhngt/canteen-core/internal/pkg/telemetry"
	"github.com/minhngt/canteen-core/internal/port"
)

func main() {
	telemetry.InitLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := envOr("ADDR", ":8080")
	sqlitePath := envOr("SQLITE_PATH", "canteen.db")
	mysqlDSN := os.Getenv("MYSQL_DSN")
	redisAddr := os.Getenv("REDIS_ADDR")
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	kafkaTopic := envOr("KAFKA_TOPIC", "canteen.orders")
	timezone := envOr("TIMEZONE", "UTC")

	// Ledger store: MySQL when a DSN is configured, embedded SQLite otherwise.
	var ledger port.LedgerRepository
	switch {
	case mysqlDSN != "":
		db, err := sql.Open("mysql", mysqlDSN)
		if err != nil {
			slog.Error("open mysql", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			slog.Error("ping mysql", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.InitSchema(ctx); err != nil {
			slog.Error("init mysql schema", "error", err)
			os.Exit(1)
		}
		ledger = adapter
		slog.Info("ledger store ready", "backend", "mysql")
	default:
		adapter, err := storage.OpenSQLite(sqlitePath)
		if err != nil {
			slog.Error("open sqlite", "error", err)
			os.Exit(1)
		}
		defer adapter.Close()
		ledger = adapter
		slog.Info("ledger store ready", "backend", "sqlite", "path", sqlitePath)
	}

	orderOpts := []service.OrderServiceOption{}

	// Snapshot cache is optional; display reads fall back to the ledger.
	var cache port.SnapshotCache
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("ping redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
		orderOpts = append(orderOpts, service.WithSnapshotCache(cache))
		slog.Info("snapshot cache ready", "addr", redisAddr)
	}

	// Event publishing is optional and best effort.
	if kafkaBrokers != "" {
		publisher := events.NewKafkaPublisher(strings.Split(kafkaBrokers, ","), kafkaTopic)
		defer publisher.Close()
		orderOpts = append(orderOpts, service.WithEventPublisher(publisher))
		slog.Info("event publisher ready", "brokers", kafkaBrokers, "topic", kafkaTopic)
	}

	orderService := service.NewOrderService(ledger, orderOpts...)
	rolloverService := service.NewRolloverService(ledger)
	snapshotService := service.NewSnapshotService(ledger, cache)

	httpHandler := handler.NewHTTPHandler(orderService, rolloverService, snapshotService)
	server := &http.Server{
		Addr:    addr,
		Handler: handler.NewRouter(httpHandler),
	}

	go runRolloverScheduler(ctx, rolloverService, timezone)

	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	cancel()
	slog.Info("stopped")
}

// runRolloverScheduler fires one tick per calendar boundary in the configured
// timezone. The tick is idempotent, so a missed or repeated run is harmless;
// operators can also trigger it manually through the rollover endpoint.
func runRolloverScheduler(ctx context.Context, rollover *service.RolloverService, timezone string) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Error("invalid timezone, rollover scheduler disabled", "timezone", timezone, "error", err)
		return
	}

	for {
		now := time.Now().In(loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case boundary := <-timer.C:
			date := boundary.In(loc).Format(time.DateOnly)
			if _, err := rollover.RunDailyRollover(ctx, date); err != nil {
				slog.Error("scheduled rollover failed", "date", date, "error", err)
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
