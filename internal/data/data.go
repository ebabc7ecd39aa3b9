package data

import (
	"context"
	"fmt"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewTransaction,
	NewMediaRepo,
	NewPersonRepo,
	NewRoleRepo,
	NewTagRepo,
	NewRunLocker,
	NewPlexCatalog,
	NewProviders,
)

// Data encapsulates database and cache connections
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
	log *log.Helper
}

type contextTxKey struct{}

// NewData creates Data instance with database and Redis connections
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	l := log.NewHelper(log.With(logger, "module", "data"))

	db, err := openDatabase(c.Database, logger)
	if err != nil {
		l.Errorf("failed to connect to database: %v", err)
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		l.Errorf("failed to get database instance: %v", err)
		return nil, nil, err
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(c.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.Database.ConnMaxLifetime.AsDuration())

	if c.Database.AutoMigrate {
		if err := Migrate(db); err != nil {
			l.Errorf("failed to migrate database: %v", err)
			return nil, nil, err
		}
	}

	l.Infof("database connected successfully (%s)", c.Database.Driver)

	// Redis is optional: it backs the provider response cache and the run locks
	var rdb *redis.Client
	if c.Redis != nil && c.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         c.Redis.Addr,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			ReadTimeout:  c.Redis.ReadTimeout.AsDuration(),
			WriteTimeout: c.Redis.WriteTimeout.AsDuration(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			l.Warnf("failed to connect to redis, continuing without it: %v", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			l.Info("redis connected successfully")
		}
	}

	data := &Data{
		db:  db,
		rdb: rdb,
		log: l,
	}

	cleanup := func() {
		l.Info("closing data resources")
		if data.rdb != nil {
			if err := data.rdb.Close(); err != nil {
				l.Errorf("failed to close redis: %v", err)
			}
		}
		if err := sqlDB.Close(); err != nil {
			l.Errorf("failed to close database: %v", err)
		}
	}

	return data, cleanup, nil
}

func openDatabase(c *conf.Database, kl log.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case "postgres", "":
		dialector = postgres.Open(c.Source)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(c.Source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{log.NewHelper(log.With(kl, "module", "data/gorm"))}, logger.Config{
			SlowThreshold:             c.SlowThreshold.AsDuration(),
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
}

// Migrate creates or alters the tables of every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

// gormWriter routes gorm's logger through kratos.
type gormWriter struct {
	h *log.Helper
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.h.Warnf(format, args...)
}

// DB returns the transaction carried by ctx, or the base handle.
func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

type transaction struct {
	data *Data
}

// NewTransaction exposes gorm transactions to the biz layer
func NewTransaction(d *Data) biz.Transaction {
	return &transaction{data: d}
}

func (t *transaction) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	err := t.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
	return translateError(err)
}
