package testutil

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("silent")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	}
}

// DB returns a fresh, migrated in-memory SQLite database private to the test.
// The pool holds a single connection: a statement issued outside an open
// transaction blocks until that transaction ends.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	name := fmt.Sprintf("file:hunt_test_%d_%d?mode=memory&cache=shared&_busy_timeout=5000", os.Getpid(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(name), gormConfig())
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })
	if err := autoMigrateAll(db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// PostgresDB connects to TEST_POSTGRES_DSN once per process and skips the test
// when it is unset.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}

		var err error
		pgDB, err = gorm.Open(postgres.Open(dsn), gormConfig())
		if err != nil {
			pgErr = err
			return
		}
		if err := autoMigrateAll(pgDB); err != nil {
			pgErr = err
			return
		}
	})

	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests against Postgres")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test db: %v", pgErr)
	}
	return pgDB
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// WriteCounter counts create/update/delete statements issued through db.
type WriteCounter struct {
	n atomic.Int64
}

func (c *WriteCounter) Count() int64 { return c.n.Load() }

func (c *WriteCounter) Reset() { c.n.Store(0) }

// CountWrites registers gorm callbacks on db that count every write.
func CountWrites(tb testing.TB, db *gorm.DB) *WriteCounter {
	tb.Helper()
	c := &WriteCounter{}
	inc := func(*gorm.DB) { c.n.Add(1) }
	name := fmt.Sprintf("testutil:count_writes_%d", dbSeq.Add(1))
	if err := db.Callback().Create().After("gorm:create").Register(name, inc); err != nil {
		tb.Fatalf("register create callback: %v", err)
	}
	if err := db.Callback().Update().After("gorm:update").Register(name, inc); err != nil {
		tb.Fatalf("register update callback: %v", err)
	}
	if err := db.Callback().Delete().After("gorm:delete").Register(name, inc); err != nil {
		tb.Fatalf("register delete callback: %v", err)
	}
	if err := db.Callback().Raw().After("gorm:raw").Register(name, func(tx *gorm.DB) {
		if isWriteSQL(tx.Statement.SQL.String()) {
			c.n.Add(1)
		}
	}); err != nil {
		tb.Fatalf("register raw callback: %v", err)
	}
	return c
}

func isWriteSQL(sql string) bool {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(sql, "INSERT") || strings.HasPrefix(sql, "UPDATE") || strings.HasPrefix(sql, "DELETE")
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.Models()...)
}
