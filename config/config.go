// Package config holds the settings of the vault service, read from the
// environment and the command line with the VAULT prefix.
package config

import "time"

type Config struct {
	Web     Web
	Backend Backend
	Vault   Vault
	Redis   Redis
	Session Session
	Rate    Rate
	Cors    Cors
	Log     Log
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:20s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Backend struct {
	URL     string        `conf:"default:http://localhost:3000/api"`
	Timeout time.Duration `conf:"default:15s"`

	BreakerFailures uint32        `conf:"default:5"`
	BreakerOpen     time.Duration `conf:"default:30s"`
	BreakerInterval time.Duration `conf:"default:60s"`
	BreakerHalfOpen uint32        `conf:"default:1"`
}

type Vault struct {
	Tick        time.Duration `conf:"default:1s"`
	Poll        time.Duration `conf:"default:10s"`
	IdleTimeout time.Duration `conf:"default:30m"`
	Sweep       time.Duration `conf:"default:1m"`
	ExpiredTTL  time.Duration `conf:"default:30m"`
}

// Redis is optional: without an address snapshots are cached in memory.
type Redis struct {
	Address     string
	Password    string        `conf:"mask"`
	DB          int           `conf:"default:0"`
	SnapshotTTL time.Duration `conf:"default:24h"`
}

type Session struct {
	Lifetime    time.Duration `conf:"default:24h"`
	IdleTimeout time.Duration `conf:"default:2h"`
	Secure      bool          `conf:"default:false"`
}

// Rate limits the public expired link endpoints per client address.
type Rate struct {
	Burst    int           `conf:"default:5"`
	Interval time.Duration `conf:"default:2s"`
	Expiry   time.Duration `conf:"default:10m"`
}

type Cors struct {
	Origin string
}

type Log struct {
	Level string `conf:"default:info"`
	JSON  bool   `conf:"default:true"`
}
