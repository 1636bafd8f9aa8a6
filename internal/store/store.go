// Package store implements the installed-package database (C2): a
// SQLite-backed relational store of installed packages, the files they
// own, their dependency edges, and a local mirror of the last fetched
// repository indexes. It opens on demand via database/sql and
// modernc.org/sqlite, the pure-Go driver, so rvn never needs cgo.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	version TEXT NOT NULL,
	description TEXT,
	install_time INTEGER NOT NULL,
	explicit INTEGER NOT NULL DEFAULT 1,
	size INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	package_id INTEGER NOT NULL,
	path TEXT NOT NULL UNIQUE,
	hash TEXT,
	size INTEGER,
	mode INTEGER,
	FOREIGN KEY (package_id) REFERENCES packages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS dependencies (
	id INTEGER PRIMARY KEY,
	package_id INTEGER NOT NULL,
	depends_on TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'runtime',
	FOREIGN KEY (package_id) REFERENCES packages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS repository_packages (
	id INTEGER PRIMARY KEY,
	repo TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	description TEXT,
	download_size INTEGER,
	installed_size INTEGER,
	filename TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	UNIQUE(repo, name, version)
);

CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
CREATE INDEX IF NOT EXISTS idx_files_package ON files(package_id);
CREATE INDEX IF NOT EXISTS idx_repo_name ON repository_packages(name);
CREATE INDEX IF NOT EXISTS idx_dependencies_package ON dependencies(package_id);
`

// DB is the installed-package database.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, creating
// its parent directory and initializing the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &rvnerr.IOError{Path: dir, Cause: err}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	// A single-writer local store; the root lock already serializes
	// invocations, but sqlite itself only allows one writer at a time.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(context.Background(), schema); err != nil {
		conn.Close()
		return nil, &rvnerr.DBError{Cause: err}
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// FileEntry describes one installed file row.
type FileEntry struct {
	Path string
	Hash string
	Size uint64
	Mode uint32
}

// Dependency describes one dependency edge recorded for an installed package.
type Dependency struct {
	DependsOn string
	Kind      string // "runtime" or "build"
}

// InstalledPackage is one row of Packages joined with its lifecycle flags.
type InstalledPackage struct {
	Name        string
	Version     string
	Description string
	Explicit    bool
	Size        uint64
	InstallTime time.Time
}

// IsInstalled reports whether a package by this name has an installed row.
func (db *DB) IsInstalled(ctx context.Context, name string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, &rvnerr.DBError{Cause: err}
	}
	return count > 0, nil
}

// VersionOf returns the installed version of name, or ("", false) if not installed.
func (db *DB) VersionOf(ctx context.Context, name string) (string, bool, error) {
	var version string
	err := db.conn.QueryRowContext(ctx, `SELECT version FROM packages WHERE name = ?`, name).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &rvnerr.DBError{Cause: err}
	}
	return version, true, nil
}

// RecordInstall inserts (or replaces) a package row and its files and
// dependency rows in one transaction. It fails with FileCollision if any
// path in files is already owned by a different package.
func (db *DB) RecordInstall(ctx context.Context, name, version, description string, explicit bool, size uint64, files []FileEntry, deps []Dependency) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	defer tx.Rollback()

	if err := recordInstallTx(ctx, tx, name, version, description, explicit, size, files, deps); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	return nil
}

// RemovePackage deletes a package's Packages/Files/Dependencies rows in one
// transaction and returns the file paths it owned. Idempotent: removing an
// absent package returns an empty slice and no error.
func (db *DB) RemovePackage(ctx context.Context, name string) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer tx.Rollback()

	files, err := removePackageTx(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	return files, nil
}

// Txn is a single outer write transaction spanning every per-package
// mutation of one `rvn` command, per spec.md §5's DB discipline: the
// transaction engine (internal/txn) opens one Txn for an entire install or
// remove plan and commits it only after the last filesystem rename
// succeeds, so a mid-plan failure leaves the DB exactly as it was.
type Txn struct {
	tx *sql.Tx
}

// Begin opens the single outer write transaction for one command.
func (db *DB) Begin(ctx context.Context) (*Txn, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	return &Txn{tx: tx}, nil
}

// RecordInstall performs the same upsert RecordInstall does, but inside the
// shared outer transaction instead of one scoped to a single call.
func (t *Txn) RecordInstall(ctx context.Context, name, version, description string, explicit bool, size uint64, files []FileEntry, deps []Dependency) error {
	return recordInstallTx(ctx, t.tx, name, version, description, explicit, size, files, deps)
}

// RemovePackage performs the same deletion RemovePackage does, inside the
// shared outer transaction.
func (t *Txn) RemovePackage(ctx context.Context, name string) ([]string, error) {
	return removePackageTx(ctx, t.tx, name)
}

// FileOwner returns the name of the installed package that owns path, if
// any — the pre-commit collision check of spec.md §4.7 step 4 queries this
// directly against the shared transaction so a collision against a file
// just staged earlier in the same plan is visible before that plan's own
// RecordInstall calls have committed.
func (t *Txn) FileOwner(ctx context.Context, path string) (string, bool, error) {
	var owner string
	err := t.tx.QueryRowContext(ctx, `SELECT p.name FROM files f JOIN packages p ON p.id = f.package_id WHERE f.path = ?`, path).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &rvnerr.DBError{Cause: err}
	}
	return owner, true, nil
}

// PreviousFile returns the hash recorded for path the last time pkg was
// installed, if pkg is the package that currently owns path — the signal
// the `.new` config-file policy (spec.md §4.7) needs to tell "a previous
// version of this same package owned this path" apart from "some other
// stray or foreign-owned file happens to be sitting here".
func (t *Txn) PreviousFile(ctx context.Context, pkg, path string) (hash string, owned bool, err error) {
	err = t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(f.hash, '') FROM files f JOIN packages p ON p.id = f.package_id
		WHERE p.name = ? AND f.path = ?`, pkg, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &rvnerr.DBError{Cause: err}
	}
	return hash, true, nil
}

// FilesOf returns the recorded files owned by an installed package, read
// through the shared transaction rather than the base *sql.DB — the pool is
// pinned to a single connection (see Open), so a query against db.conn while
// a Txn is open would block forever waiting for a connection the open
// transaction never releases.
func (t *Txn) FilesOf(ctx context.Context, name string) ([]FileEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT f.path, COALESCE(f.hash, ''), COALESCE(f.size, 0), COALESCE(f.mode, 0)
		FROM files f JOIN packages p ON p.id = f.package_id
		WHERE p.name = ?
		ORDER BY f.path`, name)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Path, &f.Hash, &f.Size, &f.Mode); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Commit finalizes every mutation made through this Txn.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	return nil
}

// Rollback discards every mutation made through this Txn. Safe to call
// after a successful Commit (a no-op returning sql.ErrTxDone, ignored).
func (t *Txn) Rollback() {
	t.tx.Rollback()
}

func recordInstallTx(ctx context.Context, tx *sql.Tx, name, version, description string, explicit bool, size uint64, files []FileEntry, deps []Dependency) error {
	for _, f := range files {
		var owner string
		err := tx.QueryRowContext(ctx, `
			SELECT p.name FROM files f JOIN packages p ON p.id = f.package_id
			WHERE f.path = ? AND p.name != ?`, f.Path, name).Scan(&owner)
		if err == nil {
			return &rvnerr.FileCollision{Path: f.Path, Owner: owner, Candidate: name}
		}
		if err != sql.ErrNoRows {
			return &rvnerr.DBError{Cause: err}
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO packages (name, version, description, install_time, explicit, size)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			description = excluded.description,
			install_time = excluded.install_time,
			explicit = excluded.explicit,
			size = excluded.size`,
		name, version, description, time.Now().Unix(), boolToInt(explicit), size)
	if err != nil {
		return &rvnerr.DBError{Cause: err}
	}

	var packageID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE name = ?`, name).Scan(&packageID); err != nil {
		return &rvnerr.DBError{Cause: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE package_id = ?`, packageID); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO files (package_id, path, hash, size, mode) VALUES (?, ?, ?, ?, ?)`,
			packageID, f.Path, f.Hash, f.Size, f.Mode); err != nil {
			return &rvnerr.DBError{Cause: err}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE package_id = ?`, packageID); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dependencies (package_id, depends_on, kind) VALUES (?, ?, ?)`,
			packageID, d.DependsOn, d.Kind); err != nil {
			return &rvnerr.DBError{Cause: err}
		}
	}
	return nil
}

func removePackageTx(ctx context.Context, tx *sql.Tx, name string) ([]string, error) {
	var packageID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE name = ?`, name).Scan(&packageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}

	rows, err := tx.QueryContext(ctx, `SELECT path FROM files WHERE package_id = ?`, packageID)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	var files []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, &rvnerr.DBError{Cause: err}
		}
		files = append(files, path)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE package_id = ?`, packageID); err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE package_id = ?`, packageID); err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, packageID); err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	return files, nil
}

// ListInstalled returns every installed package ordered by name.
// When explicitOnly is true, only packages installed as an explicit
// user request (not pulled in as a dependency) are returned.
func (db *DB) ListInstalled(ctx context.Context, explicitOnly bool) ([]InstalledPackage, error) {
	query := `SELECT name, version, COALESCE(description, ''), explicit, size, install_time FROM packages`
	if explicitOnly {
		query += ` WHERE explicit != 0`
	}
	query += ` ORDER BY name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []InstalledPackage
	for rows.Next() {
		var p InstalledPackage
		var explicit int
		var installTime int64
		var size sql.NullInt64
		if err := rows.Scan(&p.Name, &p.Version, &p.Description, &explicit, &size, &installTime); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		p.Explicit = explicit != 0
		p.Size = uint64(size.Int64)
		p.InstallTime = time.Unix(installTime, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchInstalled returns installed packages whose name or description
// contains query (case-insensitive).
func (db *DB) SearchInstalled(ctx context.Context, query string) ([]InstalledPackage, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, version, COALESCE(description, ''), explicit, size, install_time
		FROM packages
		WHERE lower(name) LIKE ? OR lower(COALESCE(description, '')) LIKE ?
		ORDER BY name`, pattern, pattern)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []InstalledPackage
	for rows.Next() {
		var p InstalledPackage
		var explicit int
		var installTime int64
		var size sql.NullInt64
		if err := rows.Scan(&p.Name, &p.Version, &p.Description, &explicit, &size, &installTime); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		p.Explicit = explicit != 0
		p.Size = uint64(size.Int64)
		p.InstallTime = time.Unix(installTime, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RepoPackage mirrors one row of a fetched repository index.
type RepoPackage struct {
	Repo          string
	Name          string
	Version       string
	Description   string
	DownloadSize  uint64
	InstalledSize uint64
	Filename      string
	SHA256        string
}

// ReplaceRepoIndex atomically replaces every RepositoryPackages row for repo
// with packages, in one transaction.
func (db *DB) ReplaceRepoIndex(ctx context.Context, repo string, packages []RepoPackage) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repository_packages WHERE repo = ?`, repo); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	for _, p := range packages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repository_packages
				(repo, name, version, description, download_size, installed_size, filename, sha256)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			repo, p.Name, p.Version, p.Description, p.DownloadSize, p.InstalledSize, p.Filename, p.SHA256); err != nil {
			return &rvnerr.DBError{Cause: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &rvnerr.DBError{Cause: err}
	}
	return nil
}

// ReverseDeps returns the names of installed packages that declare a
// runtime or build dependency on name.
func (db *DB) ReverseDeps(ctx context.Context, name string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT DISTINCT p.name
		FROM dependencies d JOIN packages p ON p.id = d.package_id
		WHERE d.depends_on = ?
		ORDER BY p.name`, name)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FilesOf returns the recorded files owned by an installed package.
func (db *DB) FilesOf(ctx context.Context, name string) ([]FileEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT f.path, COALESCE(f.hash, ''), COALESCE(f.size, 0), COALESCE(f.mode, 0)
		FROM files f JOIN packages p ON p.id = f.package_id
		WHERE p.name = ?
		ORDER BY f.path`, name)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var f FileEntry
		if err := rows.Scan(&f.Path, &f.Hash, &f.Size, &f.Mode); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DependenciesOf returns the dependency edges recorded for an installed package.
func (db *DB) DependenciesOf(ctx context.Context, name string) ([]Dependency, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT d.depends_on, d.kind
		FROM dependencies d JOIN packages p ON p.id = d.package_id
		WHERE p.name = ?
		ORDER BY d.depends_on`, name)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.DependsOn, &d.Kind); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SearchRepoIndex returns repository_packages rows matching query across all
// repos, tagged with repository name, ordered by name then repo.
func (db *DB) SearchRepoIndex(ctx context.Context, query string, includeDescription bool) ([]RepoPackage, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	sqlQuery := `
		SELECT repo, name, version, COALESCE(description, ''), download_size, installed_size, filename, sha256
		FROM repository_packages
		WHERE lower(name) LIKE ?`
	args := []any{pattern}
	if includeDescription {
		sqlQuery += ` OR lower(COALESCE(description, '')) LIKE ?`
		args = append(args, pattern)
	}
	sqlQuery += ` ORDER BY name, repo`

	rows, err := db.conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &rvnerr.DBError{Cause: err}
	}
	defer rows.Close()

	var out []RepoPackage
	for rows.Next() {
		var p RepoPackage
		if err := rows.Scan(&p.Repo, &p.Name, &p.Version, &p.Description, &p.DownloadSize, &p.InstalledSize, &p.Filename, &p.SHA256); err != nil {
			return nil, &rvnerr.DBError{Cause: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
