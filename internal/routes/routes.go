package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/bank-ledger/bank_ledger/internal/audit"
	"github.com/bank-ledger/bank_ledger/internal/config"
	"github.com/bank-ledger/bank_ledger/internal/ledger"
	"github.com/bank-ledger/bank_ledger/internal/metrics"
	"github.com/bank-ledger/bank_ledger/internal/middleware"
	"github.com/bank-ledger/bank_ledger/internal/notification"
	"github.com/bank-ledger/bank_ledger/internal/transactions"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// NATS are nil when not configured.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	NATS   *nats.Conn
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	store, err := NewStore(d)
	if err != nil {
		return err
	}
	engine := ledger.NewEngine(store, NewNotifier(d), d.Logger)

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.MetricsEnabled {
		metrics.Init()
		app.Use(middleware.Metrics())
	}
	if isDev(d.Cfg.AppEnv) {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))
	if d.Cfg.IdempotencyEnabled {
		if d.Cache == nil {
			return fmt.Errorf("idempotency requires redis")
		}
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if d.Cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	RegisterLedgerRoutes(app, transactions.NewHandler(engine))
	RegisterAuditRoutes(app, audit.NewHandler(audit.NewService(store)))

	d.Logger.Info("routes configured",
		slog.String("store_backend", d.Cfg.StoreBackend),
		slog.Bool("nats", d.NATS != nil),
		slog.Bool("idempotency", d.Cfg.IdempotencyEnabled),
	)
	return nil
}

// NewStore picks the ledger backend named by the configuration.
func NewStore(d Deps) (ledger.Store, error) {
	switch d.Cfg.StoreBackend {
	case config.BackendMemory, "":
		return ledger.NewInMemory(), nil
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("store backend %q requires a database", d.Cfg.StoreBackend)
		}
		return ledger.NewPostgresStore(d.DB), nil
	case config.BackendRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("store backend %q requires redis", d.Cfg.StoreBackend)
		}
		return ledger.NewRedisStore(d.Cache), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.Cfg.StoreBackend)
	}
}

// NewNotifier publishes to NATS when connected and falls back to the log.
func NewNotifier(d Deps) notification.Notifier {
	if d.NATS != nil {
		return notification.NewNATSNotifier(d.NATS, d.Cfg.NATSSubjectPrefix)
	}
	return notification.NewLoggerNotifier(d.Logger)
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
