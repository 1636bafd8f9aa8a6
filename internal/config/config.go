// Package config loads rvn's TOML configuration (§6 of the spec), falling
// back to compiled-in defaults when /etc/rvn/config.toml is absent, the way
// the original implementation's Config::default() did.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// General is the `[general]` section.
type General struct {
	CacheDir          string `toml:"cache_dir"`
	DatabaseDir       string `toml:"database_dir"`
	LogDir            string `toml:"log_dir"`
	ParallelDownloads int    `toml:"parallel_downloads"`
	CheckSignatures   bool   `toml:"check_signatures"`
}

// Repository is one `[[repositories]]` entry.
type Repository struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Enabled  bool   `toml:"enabled"`
	Priority int    `toml:"priority"`
	Type     string `toml:"type,omitempty"`
}

// Build is the `[build]` section.
type Build struct {
	Jobs     int    `toml:"jobs"`
	CCache   bool   `toml:"ccache"`
	BuildDir string `toml:"build_dir"`
}

// AUR is the `[aur]` section.
type AUR struct {
	Enabled       bool   `toml:"enabled"`
	BaseURL       string `toml:"base_url"`
	RPCURL        string `toml:"rpc_url"`
	CacheDir      string `toml:"cache_dir"`
	BuildDir      string `toml:"build_dir"`
	CleanBuild    bool   `toml:"clean_build"`
	SkipOutOfDate bool   `toml:"skip_out_of_date"`
}

// Config is the full decoded shape of config.toml.
type Config struct {
	General      General      `toml:"general"`
	Repositories []Repository `toml:"repositories"`
	Build        Build        `toml:"build"`
	AUR          AUR          `toml:"aur"`
}

// DefaultPath is where rvn looks for its configuration unless --config
// overrides it.
const DefaultPath = "/etc/rvn/config.toml"

// Default returns the compiled-in configuration used when no config file
// exists yet, matching original_source's Config::default() repository list
// and directory layout.
func Default() Config {
	return Config{
		General: General{
			CacheDir:          "/var/cache/rvn",
			DatabaseDir:       "/var/lib/rvn",
			LogDir:            "/var/log/rvn",
			ParallelDownloads: 5,
			CheckSignatures:   true,
		},
		Repositories: []Repository{
			{
				Name:     "raven",
				URL:      "https://repo.theravenlinux.org/raven_linux_v0.1.0",
				Enabled:  true,
				Priority: 1,
			},
			{
				Name:     "community-github",
				URL:      "https://raw.githubusercontent.com/javanhut/CommunityReposRL/main/raven_linux_v0.1.0",
				Enabled:  false,
				Priority: 10,
				Type:     "github",
			},
		},
		Build: Build{
			Jobs:     numCPU(),
			CCache:   true,
			BuildDir: "/tmp/rvn-build",
		},
		AUR: AUR{
			Enabled:       true,
			BaseURL:       "https://aur.archlinux.org",
			RPCURL:        "https://aur.archlinux.org/rpc/",
			CacheDir:      "/var/cache/rvn/aur",
			BuildDir:      "/tmp/rvn-aur-build",
			CleanBuild:    true,
			SkipOutOfDate: false,
		},
	}
}

// Load reads path, falling back to Default() if it doesn't exist. A missing
// parent directory for any configured path is created lazily by the
// component that first needs it (cache, DB, lock, build), not here.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	} else if err != nil {
		return Config{}, &rvnerr.IOError{Path: path, Cause: err}
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, &rvnerr.IOError{Path: path, Cause: err}
	}
	return cfg, nil
}

// Save writes cfg to path as pretty TOML, creating its parent directory.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &rvnerr.IOError{Path: dir, Cause: err}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return &rvnerr.IOError{Path: path, Cause: err}
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return &rvnerr.IOError{Path: path, Cause: err}
	}
	return nil
}

// DatabasePath returns <database_dir>/packages.db, per spec.md §6's State
// paths.
func (c Config) DatabasePath() string { return filepath.Join(c.General.DatabaseDir, "packages.db") }

// LockPath returns <database_dir>/rvn.lock.
func (c Config) LockPath() string { return filepath.Join(c.General.DatabaseDir, "rvn.lock") }

func numCPU() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 4
}
