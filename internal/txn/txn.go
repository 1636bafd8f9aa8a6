// Package txn implements the transaction engine (C7): a staging directory
// and undo log around install/remove plans so that either every planned
// package lands on disk with its DB row written, or none does — per
// spec.md §4.7's atomicity guarantee.
package txn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/cache"
	"github.com/ravenlinux/rvn/internal/repo"
	"github.com/ravenlinux/rvn/internal/resolver"
	"github.com/ravenlinux/rvn/internal/rvnerr"
	"github.com/ravenlinux/rvn/internal/store"
)

// Engine drives install/remove plans against a root filesystem, a staging
// directory distinct from it, the installed-package DB, the archive cache,
// and the repository client used to fill cache misses.
type Engine struct {
	Root     string // the live filesystem root packages are installed into
	StageDir string // scratch space for extraction, trash, and rollback

	DB    *store.DB
	Cache *cache.Cache
	Repos *repo.MultiRepoClient
	Log   *logrus.Entry
}

// undoEntry records one committed rename, so rollback can walk the log in
// reverse and restore exactly what was there before.
type undoEntry struct {
	rootPath     string // the path under Root that was created or replaced
	trashPath    string // where the previous content was moved, "" if none existed
	wasDirectory bool
}

// Install executes plan in order (already topologically sorted by the
// resolver), staging and committing one package at a time, and recording
// every package in a single outer DB transaction that commits only after
// the final rename succeeds. Any failure rolls back every rename already
// performed and leaves the DB untouched.
func (e *Engine) Install(ctx context.Context, plan resolver.Plan) error {
	if len(plan) == 0 {
		return nil
	}

	stage, err := os.MkdirTemp(e.StageDir, "install-*")
	if err != nil {
		return &rvnerr.IOError{Path: e.StageDir, Cause: err}
	}
	defer os.RemoveAll(stage)

	trash := filepath.Join(stage, ".trash")
	if err := os.MkdirAll(trash, 0755); err != nil {
		return &rvnerr.IOError{Path: trash, Cause: err}
	}

	dbTxn, err := e.DB.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			dbTxn.Rollback()
		}
	}()

	var undoLog []undoEntry
	rollback := func() {
		e.rollback(undoLog, trash)
	}

	for _, action := range plan {
		if err := e.installOne(ctx, dbTxn, stage, trash, action, &undoLog); err != nil {
			rollback()
			return err
		}
	}

	if err := dbTxn.Commit(); err != nil {
		rollback()
		return err
	}
	committed = true
	return nil
}

func (e *Engine) installOne(ctx context.Context, dbTxn *store.Txn, stage, trash string, action resolver.Action, undoLog *[]undoEntry) error {
	e.logf(action.Name, "acquiring")
	archivePath, err := e.acquire(ctx, action)
	if err != nil {
		return err
	}

	sha, err := archive.HashFile(archivePath)
	if err != nil {
		return err
	}
	if sha != action.SHA256 {
		return &rvnerr.ChecksumMismatch{Kind: "package", Name: action.Name, Expected: action.SHA256, Actual: sha}
	}

	pkgStage := filepath.Join(stage, action.Name)
	meta, manifest, err := archive.Extract(archivePath, pkgStage)
	if err != nil {
		return err
	}
	if manifest.Version != action.Version {
		return &rvnerr.VersionConflict{Name: action.Name, V1: action.Version, V2: manifest.Version}
	}

	for _, path := range manifest.AllPaths() {
		owner, found, err := dbTxn.FileOwner(ctx, path)
		if err != nil {
			return err
		}
		if found && owner != action.Name {
			return &rvnerr.FileCollision{Path: path, Owner: owner, Candidate: action.Name}
		}
	}

	e.logf(action.Name, "committing")
	files, err := e.commit(ctx, dbTxn, action.Name, pkgStage, trash, manifest, undoLog)
	if err != nil {
		return err
	}

	deps := make([]store.Dependency, 0, len(action.Dependencies))
	for _, d := range action.Dependencies {
		deps = append(deps, store.Dependency{DependsOn: d, Kind: "runtime"})
	}
	return dbTxn.RecordInstall(ctx, action.Name, action.Version, meta.Description, action.IsExplicit, action.Size, files, deps)
}

// acquire returns a local path to action's .rvn archive, pulling it from
// the cache first and falling back to a repo download (AUR candidates are
// expected to have already populated the cache during resolution, per
// spec.md §4.6's materialize step; a cache miss for an AUR-sourced action
// is therefore an IOError rather than a retriggered build).
func (e *Engine) acquire(ctx context.Context, action resolver.Action) (string, error) {
	if path, ok, err := e.Cache.Get(action.Filename, action.SHA256); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	if action.Source != resolver.SourceRepo {
		return "", &rvnerr.IOError{Path: action.Filename, Cause: fmt.Errorf("AUR-sourced package %q missing from cache", action.Name)}
	}

	client := e.Repos.ClientByName(action.Repo)
	if client == nil {
		return "", &rvnerr.IndexUnavailable{Repo: action.Repo, Detail: "no such configured repository"}
	}

	tmpDir, err := os.MkdirTemp(e.StageDir, "download-*")
	if err != nil {
		return "", &rvnerr.IOError{Path: e.StageDir, Cause: err}
	}
	defer os.RemoveAll(tmpDir)

	pkg := repo.Package{Name: action.Name, Version: action.Version, Filename: action.Filename, SHA256: action.SHA256}
	downloaded, err := client.Download(ctx, pkg, tmpDir, nil)
	if err != nil {
		return "", err
	}
	return e.Cache.Put(action.Filename, downloaded)
}

// commit renames every manifest-declared directory/file/symlink from
// pkgStage into Root, applying the config-file `.new` policy and recording
// an undo entry for each destructive rename, and returns the FileEntry rows
// RecordInstall should persist.
func (e *Engine) commit(ctx context.Context, dbTxn *store.Txn, pkgName, pkgStage, trash string, manifest archive.Manifest, undoLog *[]undoEntry) ([]store.FileEntry, error) {
	for _, dir := range manifest.Directories {
		dest := filepath.Join(e.Root, filepath.FromSlash(dir))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := os.MkdirAll(dest, 0755); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}
		*undoLog = append(*undoLog, undoEntry{rootPath: dest, wasDirectory: true})
	}

	files := make([]store.FileEntry, 0, len(manifest.Files))
	declared := make(map[string]archive.ManifestFile, len(manifest.Files))
	for _, f := range manifest.Files {
		declared[f.Path] = f
	}

	for _, f := range manifest.Files {
		src := filepath.Join(pkgStage, filepath.FromSlash(f.Path))
		dest := filepath.Join(e.Root, filepath.FromSlash(f.Path))

		if manifest.IsConfigFile(f.Path) {
			prevHash, owned, err := dbTxn.PreviousFile(ctx, pkgName, f.Path)
			if err != nil {
				return nil, err
			}
			if owned {
				if existing, changed, err := configFileChanged(dest, prevHash); err == nil && existing && changed {
					// A previous version of this same package owned this
					// path and its on-disk content no longer matches what
					// that version's manifest recorded: keep the installed
					// file, extract the new one beside it with a .new
					// suffix, per spec.md §4.7.
					dest += ".new"
				}
			}
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}

		trashed, err := displaceExisting(dest, trash)
		if err != nil {
			return nil, err
		}
		if err := os.Rename(src, dest); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}
		if err := os.Chmod(dest, os.FileMode(f.Mode)); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}
		*undoLog = append(*undoLog, undoEntry{rootPath: dest, trashPath: trashed})

		files = append(files, store.FileEntry{Path: f.Path, Hash: f.SHA256, Size: f.Size, Mode: f.Mode})
	}

	for _, s := range manifest.Symlinks {
		dest := filepath.Join(e.Root, filepath.FromSlash(s.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}
		trashed, err := displaceExisting(dest, trash)
		if err != nil {
			return nil, err
		}
		if err := os.Symlink(s.Target, dest); err != nil {
			return nil, &rvnerr.IOError{Path: dest, Cause: err}
		}
		*undoLog = append(*undoLog, undoEntry{rootPath: dest, trashPath: trashed})
	}

	return files, nil
}

// configFileChanged reports whether a config file already exists at dest
// and, if so, whether its on-disk content differs from prevHash — the
// hash the previous installed version of this same package recorded for
// it, not the hash of the version now being installed.
func configFileChanged(dest, prevHash string) (existing, changed bool, err error) {
	if _, statErr := os.Stat(dest); statErr != nil {
		return false, false, nil
	}
	hash, err := archive.HashFile(dest)
	if err != nil {
		return true, false, err
	}
	return true, hash != prevHash, nil
}

// displaceExisting moves whatever is at dest into trash (keyed by a path
// derived from dest so concurrent packages in the same plan don't collide),
// returning the trash path so the undo log can restore it, or "" if dest
// didn't exist.
func displaceExisting(dest, trash string) (string, error) {
	if _, err := os.Lstat(dest); err != nil {
		return "", nil
	}
	trashPath := filepath.Join(trash, strings.ReplaceAll(strings.TrimPrefix(dest, string(filepath.Separator)), string(filepath.Separator), "_"))
	if err := os.MkdirAll(filepath.Dir(trashPath), 0755); err != nil {
		return "", &rvnerr.IOError{Path: trashPath, Cause: err}
	}
	if err := os.Rename(dest, trashPath); err != nil {
		return "", &rvnerr.IOError{Path: dest, Cause: err}
	}
	return trashPath, nil
}

// rollback walks undoLog in reverse, undoing each rename: a displaced file
// is moved back out of trash, and a fresh creation (no previous content) is
// removed outright.
func (e *Engine) rollback(undoLog []undoEntry, trash string) {
	for i := len(undoLog) - 1; i >= 0; i-- {
		entry := undoLog[i]
		if entry.wasDirectory {
			os.Remove(entry.rootPath) // best-effort; non-empty dirs are left
			continue
		}
		if entry.trashPath != "" {
			if err := os.Rename(entry.trashPath, entry.rootPath); err != nil {
				e.Log.WithError(err).WithField("path", entry.rootPath).Warn("rollback: failed to restore previous content")
			}
			continue
		}
		if err := os.Remove(entry.rootPath); err != nil {
			e.Log.WithError(err).WithField("path", entry.rootPath).Warn("rollback: failed to remove staged file")
		}
	}
}

// Remove deletes the given installed packages: for each, their files are
// unlinked deepest-path-first (best-effort — unlink failures are logged,
// not fatal) and their DB rows are dropped, inside one outer transaction.
func (e *Engine) Remove(ctx context.Context, names []string) error {
	dbTxn, err := e.DB.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			dbTxn.Rollback()
		}
	}()

	for _, name := range names {
		fileEntries, err := dbTxn.FilesOf(ctx, name)
		if err != nil {
			return err
		}
		paths := make([]string, len(fileEntries))
		for i, f := range fileEntries {
			paths[i] = f.Path
		}
		sort.Slice(paths, func(i, j int) bool { return depth(paths[i]) > depth(paths[j]) })

		for _, p := range paths {
			full := filepath.Join(e.Root, filepath.FromSlash(p))
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				e.Log.WithError(err).WithField("path", full).Warn("remove: failed to unlink file")
			}
		}

		if _, err := dbTxn.RemovePackage(ctx, name); err != nil {
			return err
		}
		e.logf(name, "removed")
	}

	if err := dbTxn.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func depth(path string) int { return strings.Count(path, "/") }

func (e *Engine) logf(pkg, msg string) {
	if e.Log == nil {
		return
	}
	e.Log.WithField("pkg", pkg).Info(msg)
}
