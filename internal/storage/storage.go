/*
Mailstash - Self-hostable email archiving service.
Copyright © 2024-2026 Mailstash contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package storage implements the archive database module: GORM models
// for accounts, mailboxes, routines, emails, attachments and
// correspondents, plus the typed operations the engine uses.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
)

const modName = "storage"

// Storage is the archive database module instance.
type Storage struct {
	instName string
	driver   string
	dsn      string

	Log log.Logger
	DB  *gorm.DB
}

func New(_, instName string, _, inlineArgs []string) (module.Module, error) {
	s := &Storage{
		instName: instName,
		Log:      log.Logger{Name: modName},
	}
	switch len(inlineArgs) {
	case 0:
		// Not inline definition.
	case 2:
		s.driver = inlineArgs[0]
		s.dsn = inlineArgs[1]
	default:
		return nil, errors.New("storage: expected 0 or 2 inline arguments")
	}
	return s, nil
}

func (s *Storage) Init(cfg *config.Map) error {
	cfg.Bool("debug", true, false, &s.Log.Debug)
	cfg.String("driver", false, s.driver == "", s.driver, &s.driver)
	cfg.String("dsn", false, s.dsn == "", s.dsn, &s.dsn)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	var dial gorm.Dialector
	switch s.driver {
	case "sqlite3", "sqlite":
		dial = sqlite.Open(s.dsn)
	case "mysql":
		dial = mysql.Open(s.dsn)
	case "postgres":
		dial = postgres.Open(s.dsn)
	default:
		return fmt.Errorf("storage: unsupported driver: %s", s.driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		// Unique-constraint violations have to come out as
		// gorm.ErrDuplicatedKey for idempotent writes to work.
		TranslateError: true,
		Logger: gormlogger.New(gormLogWriter{s.Log}, gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Warn,
		}),
	})
	if err != nil {
		return fmt.Errorf("storage: open: %w", err)
	}
	s.DB = db

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}

	return nil
}

func (s *Storage) Name() string {
	return modName
}

func (s *Storage) InstanceName() string {
	return s.instName
}

func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogWriter bridges gorm's logger onto the framework logger.
type gormLogWriter struct {
	l log.Logger
}

func (w gormLogWriter) Printf(format string, args ...interface{}) {
	w.l.Printf(format, args...)
}

// retryAttempts is how many times a failed database write is retried
// before the error bubbles up.
const retryAttempts = 3

// WithRetry runs fn, retrying transient database failures with
// exponential backoff.
func (s *Storage) WithRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Not transient, the caller handles conflicts.
			return err
		}
		if attempt == retryAttempts-1 {
			break
		}

		s.Log.Msg("database operation failed, retrying", "attempt", attempt+1, "err", err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func init() {
	module.Register(modName, New)
}
