package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/agentctl/agentctl/internal/config"
)

// loadConfig layers defaults, the state dir's config.json, environment
// overrides and (if fs is non-nil) explicitly-set flags, per spec §6.5.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(fs)
	if err != nil {
		return cfg, err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openOpenCodeDB opens the engine D relational store read-only; a
// missing path (engine D not configured) is not an error here, the
// caller simply gets a nil *sql.DB and engine D is left unscanned.
func openOpenCodeDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil
	}
	return db, nil
}
