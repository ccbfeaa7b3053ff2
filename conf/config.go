// Package conf loads the engine's runtime configuration from an INI file,
// falling back to hard-coded defaults when no file is given.
package conf

import (
	"time"

	"gopkg.in/ini.v1"
)

// Config is the engine-wide tunable set. Only the knobs the storage engine
// itself consumes live here — no network, session, or SQL-front-end
// settings, since those subsystems are out of scope for this module.
type Config struct {
	Raw *ini.File

	DataDir string `default:"data"`

	PageSize         int `default:"4096"`
	BufferPoolFrames int `default:"1024"`

	LogLevel string `default:"info"`
	LogPath  string `default:""`

	// LockWaitPolicy is informational only: the lock manager always runs
	// deadlock prevention (spec.md §4.4); there is no wait-based mode.
	LockWaitPolicy string `default:"prevention"`

	// TxnCleanupInterval paces how often a caller should invoke
	// TransactionManager.Cleanup to reclaim terminal (committed/aborted)
	// transactions; zero disables periodic cleanup entirely (the caller
	// may still invoke it manually).
	TxnCleanupInterval time.Duration `default:"0s"`
}

// Default returns a Config with every field at its hard-coded default.
func Default() *Config {
	return &Config{
		Raw:              ini.Empty(),
		DataDir:          "data",
		PageSize:         4096,
		BufferPoolFrames: 1024,
		LogLevel:         "info",
		LockWaitPolicy:   "prevention",
	}
}

// Load reads an INI file at path and overlays it onto the defaults. A path
// of "" returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Raw = raw

	engine := raw.Section("engine")
	cfg.DataDir = engine.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageSize = engine.Key("page_size").MustInt(cfg.PageSize)
	cfg.BufferPoolFrames = engine.Key("buffer_pool_frames").MustInt(cfg.BufferPoolFrames)

	logs := raw.Section("logs")
	cfg.LogLevel = logs.Key("level").MustString(cfg.LogLevel)
	cfg.LogPath = logs.Key("path").MustString(cfg.LogPath)

	txn := raw.Section("txn")
	cfg.TxnCleanupInterval = txn.Key("cleanup_interval").MustDuration(cfg.TxnCleanupInterval)

	return cfg, nil
}
