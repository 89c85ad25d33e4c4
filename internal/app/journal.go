package app

import (
	"errors"
	"strings"

	"github.com/nuetzliches/docrelay/internal/config"
	"github.com/nuetzliches/docrelay/internal/journal"
)

var errJournalNotConfigured = errors.New("no journal configured (use --journal-db or --journal-postgres-dsn)")

func openJournal(cfg config.JournalConfig) (journal.Store, error) {
	sqlitePath := strings.TrimSpace(cfg.SQLitePath)
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	switch {
	case sqlitePath != "" && dsn != "":
		return nil, errors.New("--journal-db and --journal-postgres-dsn are mutually exclusive")
	case sqlitePath != "":
		return journal.NewSQLiteStore(sqlitePath)
	case dsn != "":
		return journal.NewPostgresStore(dsn)
	default:
		return nil, errJournalNotConfigured
	}
}
