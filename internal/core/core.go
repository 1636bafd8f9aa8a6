// Package core assembles the components built elsewhere in internal/ into
// one explicitly-threaded value, per spec.md's redesign away from global
// mutable singletons: every operation takes a *Core rather than reaching
// for package-level state.
package core

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/aur"
	"github.com/ravenlinux/rvn/internal/cache"
	"github.com/ravenlinux/rvn/internal/config"
	"github.com/ravenlinux/rvn/internal/lock"
	"github.com/ravenlinux/rvn/internal/repo"
	"github.com/ravenlinux/rvn/internal/rvnerr"
	"github.com/ravenlinux/rvn/internal/store"
	"github.com/ravenlinux/rvn/internal/txn"
)

// Core holds every stateful dependency an rvn command needs, constructed
// once at process entry and passed down explicitly.
type Core struct {
	Config config.Config

	DB    *store.DB
	Cache *cache.Cache
	Repos *repo.MultiRepoClient
	AUR   *aur.Client
	Txn   *txn.Engine
	Lock  *lock.Lock
	Log   *logrus.Entry

	Provider Provider
}

// Options lets callers (mainly tests) override where Core points its
// filesystem state, in place of the paths config.Config declares.
type Options struct {
	ConfigPath string
	Root       string // filesystem root packages install into; "/" in production
	StageDir   string // scratch space for txn.Engine; defaults under cache dir
	SkipLock   bool   // tests that don't want flock contention between runs
}

// New loads configuration, opens the installed-package DB and archive
// cache, constructs the repository and AUR clients, and acquires the
// exclusive root lock — the full startup sequence every rvn subcommand
// runs before doing any actual work.
func New(opts Options, log *logrus.Entry) (*Core, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	root := opts.Root
	if root == "" {
		root = "/"
	}

	for _, dir := range []string{cfg.General.CacheDir, cfg.General.DatabaseDir, cfg.General.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &rvnerr.IOError{Path: dir, Cause: err}
		}
	}

	var l *lock.Lock
	if !opts.SkipLock {
		l, err = lock.Acquire(cfg.LockPath())
		if err != nil {
			return nil, err
		}
	}
	release := func() {
		if l != nil {
			l.Unlock()
		}
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		release()
		return nil, err
	}

	c, err := cache.Open(cfg.General.CacheDir)
	if err != nil {
		db.Close()
		release()
		return nil, err
	}

	var clients []*repo.Client
	for _, r := range cfg.Repositories {
		if !r.Enabled {
			continue
		}
		kind := repo.KindGeneric
		if r.Type == "github" {
			kind = repo.KindGitHubRaw
		}
		clients = append(clients, repo.NewClient(r.Name, r.URL, kind, r.Priority))
	}
	repos := repo.NewMultiRepoClient(clients...)

	aurClient := aur.NewClient(toAURConfig(cfg.AUR), c, log)

	stage := opts.StageDir
	if stage == "" {
		stage = filepath.Join(cfg.General.CacheDir, "stage")
	}
	if err := os.MkdirAll(stage, 0755); err != nil {
		db.Close()
		release()
		return nil, &rvnerr.IOError{Path: stage, Cause: err}
	}

	engine := &txn.Engine{
		Root:     root,
		StageDir: stage,
		DB:       db,
		Cache:    c,
		Repos:    repos,
		Log:      log,
	}

	return &Core{
		Config:   cfg,
		DB:       db,
		Cache:    c,
		Repos:    repos,
		AUR:      aurClient,
		Txn:      engine,
		Lock:     l,
		Log:      log,
		Provider: Provider{Repos: repos, AUR: aurClient, Log: log},
	}, nil
}

// Close releases every resource New acquired, in reverse order.
func (c *Core) Close() error {
	var first error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.Lock != nil {
		if err := c.Lock.Unlock(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func toAURConfig(a config.AUR) aur.Config {
	return aur.Config{
		Enabled:       a.Enabled,
		BaseURL:       a.BaseURL,
		RPCURL:        a.RPCURL,
		CacheDir:      a.CacheDir,
		BuildDir:      a.BuildDir,
		CleanBuild:    a.CleanBuild,
		SkipOutOfDate: a.SkipOutOfDate,
	}
}
