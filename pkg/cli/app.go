package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/config"
	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/repository"
	"github.com/platinummonkey/ledger/pkg/repository/memory"
	"github.com/platinummonkey/ledger/pkg/repository/redisrepo"
	"github.com/platinummonkey/ledger/pkg/repository/sqlrepo"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// sqlDrivers maps configured driver names to database/sql driver names
var sqlDrivers = map[string]string{
	config.DriverSQLite:   "sqlite3",
	config.DriverPostgres: "postgres",
}

// App is the composition root shared by every subcommand. It builds the one
// sink the configuration selects and everything that depends on it.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Sink      audit.Sink
	Rotations []*audit.RotationManager
	Recorder  *audit.Recorder

	repoDB  *sql.DB
	redis   *redis.Client
	closers []func() error
}

// NewApp validates cfg and wires the configured sink and recorder. Logs go to logOut.
func NewApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		Log:      observability.NewLogger(cfg.Observability.Level(), logOut),
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), a.Log)
	if err != nil {
		return nil, err
	}
	if providers != nil {
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return observability.ShutdownOTel(ctx, providers)
		})
	}

	sink, err := a.buildSink(ctx, cfg.Audit.Sink)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Sink = sink

	a.Recorder, err = audit.NewRecorder(audit.RecorderConfig{
		Threshold: cfg.Audit.Threshold(),
		Sink:      sink,
		Logger:    a.Log,
		Metrics:   a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// loadApp loads the configuration at path and builds an App logging to stderr
func loadApp(ctx context.Context, path string) (*App, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg, os.Stderr)
}

func (a *App) buildSink(ctx context.Context, name string) (audit.Sink, error) {
	switch name {
	case config.SinkText:
		rotation, err := a.rotation(name)
		if err != nil {
			return nil, err
		}
		return audit.NewTextFileSink(rotation), nil

	case config.SinkJSON:
		rotation, err := a.rotation(name)
		if err != nil {
			return nil, err
		}
		return audit.NewJSONFileSink(rotation)

	case config.SinkCallback:
		return audit.NewCallbackSink(loggingStrategies(a.Log))

	case config.SinkSQL:
		db, err := a.openSQL(ctx, a.Config.Audit.SQLDriver, a.Config.Audit.SQLDSN)
		if err != nil {
			return nil, err
		}
		return audit.NewSQLSink(ctx, db)

	case config.SinkMulti:
		sinks := make([]audit.Sink, 0, len(a.Config.Audit.MultiSinks))
		for _, member := range a.Config.Audit.MultiSinks {
			if member == config.SinkMulti {
				return nil, fmt.Errorf("multi sink cannot contain another multi sink: %w", sentinel.ErrConfiguration)
			}
			sink, err := a.buildSink(ctx, member)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		}
		return audit.NewMultiSink(sinks...), nil

	default:
		return nil, fmt.Errorf("invalid audit sink: %s: %w", name, sentinel.ErrConfiguration)
	}
}

func (a *App) rotation(sink string) (*audit.RotationManager, error) {
	rc := a.Config.Audit.RotationConfig(sink)
	rc.Logger = a.Log
	rc.Metrics = a.Metrics

	rotation, err := audit.NewRotationManager(rc)
	if err != nil {
		return nil, err
	}
	a.Rotations = append(a.Rotations, rotation)
	return rotation, nil
}

func (a *App) openSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	name, ok := sqlDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q: %w", driver, sentinel.ErrConfiguration)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w: %w", driver, sentinel.ErrDatabase, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w: %w", driver, sentinel.ErrDatabase, err)
	}

	a.closers = append(a.closers, db.Close)
	return db, nil
}

// openRepository returns the configured repository for one entity type.
// table names the SQL table or the Redis key prefix.
func openRepository[T entity.Entity](ctx context.Context, a *App, table string, newT func() T) (repository.Repository[T], error) {
	cfg := a.Config.Repository
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(newT), nil

	case config.DriverSQLite, config.DriverPostgres:
		if a.repoDB == nil {
			db, err := a.openSQL(ctx, cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, err
			}
			a.repoDB = db
		}
		return sqlrepo.New(ctx, a.repoDB, table, newT)

	case config.DriverRedis:
		if a.redis == nil {
			client, err := redisrepo.NewClient(ctx, cfg.DSN)
			if err != nil {
				return nil, err
			}
			a.redis = client
			a.closers = append(a.closers, client.Close)
		}
		return redisrepo.New(a.redis, table, newT)

	default:
		return nil, fmt.Errorf("invalid repository driver: %s: %w", cfg.Driver, sentinel.ErrConfiguration)
	}
}

// Close flushes metrics to the configured text file and releases connections
func (a *App) Close() error {
	var errs []error
	if path := a.Config.Observability.MetricsFile; path != "" {
		if err := prometheus.WriteToTextfile(path, a.Registry); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics file: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loggingStrategies back the callback sink with the application log. It keeps
// no store, so queries and censorship are not available.
func loggingStrategies(log *logrus.Logger) audit.CallbackStrategies {
	noStore := fmt.Errorf("callback sink keeps no store: %w", sentinel.ErrNotImplemented)

	return audit.CallbackStrategies{
		Events: audit.EventSinkFunc(func(ctx context.Context, event *audit.Event) error {
			log.WithFields(logrus.Fields{
				"audit_event_id": event.ID,
				"caller":         event.CallerContext,
			}).Info(event.Message)
			return nil
		}),
		Changes: audit.ChangeSinkFunc(func(ctx context.Context, record *audit.AuditRecord) error {
			log.WithFields(logrus.Fields{
				"audit_record_id": record.ID,
				"operation":       string(record.Operation),
				"item_type":       string(record.ItemType),
				"item_id":         record.ItemID,
				"editor_id":       record.EditorID,
				"fields":          record.FieldsUpdated,
			}).Info("audit record")
			return nil
		}),
		Queries: audit.QuerySinkFuncs{
			Events: func(ctx context.Context, q audit.Query) ([]*audit.Event, error) {
				return nil, noStore
			},
			Changes: func(ctx context.Context, q audit.Query) ([]*audit.AuditRecord, error) {
				return nil, noStore
			},
		},
		Censor: audit.CensorSinkFunc(func(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
			return nil, noStore
		}),
	}
}
