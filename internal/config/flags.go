package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags are the command-line overrides; only flags that were set are applied
type Flags struct {
	set *pflag.FlagSet

	addr          string
	logLevel      string
	logFormat     string
	ledgerDriver  string
	ledgerDSN     string
	journalDriver string
	redisAddr     string
	keyFile       string
	launchTimeout time.Duration
}

// BindFlags registers the overrides on fs
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{set: fs}
	fs.StringVar(&f.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (auto, json, console)")
	fs.StringVar(&f.ledgerDriver, "ledger-driver", "", "ledger driver (memory, sqlite, postgres)")
	fs.StringVar(&f.ledgerDSN, "ledger-dsn", "", "ledger data source name")
	fs.StringVar(&f.journalDriver, "journal-driver", "", "resume journal driver (memory, redis)")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "redis address for the resume journal")
	fs.StringVar(&f.keyFile, "key-file", "", "requester key file")
	fs.DurationVar(&f.launchTimeout, "launch-timeout", 0, "upper bound for one launch run")
	return f
}

// Apply copies every changed flag into cfg
func (f *Flags) Apply(cfg *Config) {
	changed := func(name string) bool {
		fl := f.set.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if changed("ledger-driver") {
		cfg.Ledger.Driver = f.ledgerDriver
	}
	if changed("ledger-dsn") {
		cfg.Ledger.DSN = f.ledgerDSN
	}
	if changed("journal-driver") {
		cfg.Journal.Driver = f.journalDriver
	}
	if changed("redis-addr") {
		cfg.Journal.Redis.Addr = f.redisAddr
	}
	if changed("key-file") {
		cfg.Signer.KeyFile = f.keyFile
	}
	if changed("launch-timeout") {
		cfg.Server.LaunchTimeout = f.launchTimeout
	}
}
