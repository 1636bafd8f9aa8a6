package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "packages.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordInstallAndIsInstalled(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	err := db.RecordInstall(ctx, "hello", "1.0.0", "a greeter", true, 4096,
		[]FileEntry{{Path: "usr/bin/hello", Hash: "abc", Size: 10, Mode: 0755}},
		[]Dependency{{DependsOn: "libc", Kind: "runtime"}})
	if err != nil {
		t.Fatalf("RecordInstall: %v", err)
	}

	ok, err := db.IsInstalled(ctx, "hello")
	if err != nil || !ok {
		t.Fatalf("IsInstalled: got (%v, %v), want (true, nil)", ok, err)
	}

	version, found, err := db.VersionOf(ctx, "hello")
	if err != nil || !found || version != "1.0.0" {
		t.Fatalf("VersionOf: got (%q, %v, %v)", version, found, err)
	}

	deps, err := db.DependenciesOf(ctx, "hello")
	if err != nil || len(deps) != 1 || deps[0].DependsOn != "libc" {
		t.Fatalf("DependenciesOf: got (%v, %v)", deps, err)
	}
}

func TestRecordInstallDetectsFileCollision(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.RecordInstall(ctx, "a", "1.0.0", "", true, 0,
		[]FileEntry{{Path: "usr/bin/shared"}}, nil); err != nil {
		t.Fatalf("RecordInstall a: %v", err)
	}

	err := db.RecordInstall(ctx, "b", "1.0.0", "", true, 0,
		[]FileEntry{{Path: "usr/bin/shared"}}, nil)
	if err == nil {
		t.Fatal("expected FileCollision, got nil")
	}
	if _, ok := err.(*rvnerr.FileCollision); !ok {
		t.Fatalf("expected *rvnerr.FileCollision, got %T: %v", err, err)
	}

	// A failed transaction must leave the DB unchanged for b.
	ok, err := db.IsInstalled(ctx, "b")
	if err != nil || ok {
		t.Fatalf("expected b not installed after failed RecordInstall, got (%v, %v)", ok, err)
	}
}

func TestRemovePackageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	files, err := db.RemovePackage(ctx, "never-installed")
	if err != nil || len(files) != 0 {
		t.Fatalf("RemovePackage on absent name: got (%v, %v)", files, err)
	}

	if err := db.RecordInstall(ctx, "hello", "1.0.0", "", true, 0,
		[]FileEntry{{Path: "usr/bin/hello"}}, nil); err != nil {
		t.Fatalf("RecordInstall: %v", err)
	}

	files, err = db.RemovePackage(ctx, "hello")
	if err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}
	if len(files) != 1 || files[0] != "usr/bin/hello" {
		t.Fatalf("unexpected removed files: %v", files)
	}

	ok, _ := db.IsInstalled(ctx, "hello")
	if ok {
		t.Fatal("expected hello no longer installed")
	}

	// Second removal is a no-op, not an error.
	files, err = db.RemovePackage(ctx, "hello")
	if err != nil || len(files) != 0 {
		t.Fatalf("second RemovePackage: got (%v, %v)", files, err)
	}
}

func TestReplaceRepoIndexIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	first := []RepoPackage{
		{Repo: "core", Name: "hello", Version: "1.0.0", Filename: "hello-1.0.0.rvn", SHA256: "aaa"},
		{Repo: "core", Name: "world", Version: "2.0.0", Filename: "world-2.0.0.rvn", SHA256: "bbb"},
	}
	if err := db.ReplaceRepoIndex(ctx, "core", first); err != nil {
		t.Fatalf("ReplaceRepoIndex: %v", err)
	}

	second := []RepoPackage{
		{Repo: "core", Name: "hello", Version: "1.1.0", Filename: "hello-1.1.0.rvn", SHA256: "ccc"},
	}
	if err := db.ReplaceRepoIndex(ctx, "core", second); err != nil {
		t.Fatalf("ReplaceRepoIndex (second): %v", err)
	}

	results, err := db.SearchRepoIndex(ctx, "world", false)
	if err != nil {
		t.Fatalf("SearchRepoIndex: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected world to be gone after replace, got %v", results)
	}

	results, err = db.SearchRepoIndex(ctx, "hello", false)
	if err != nil || len(results) != 1 || results[0].Version != "1.1.0" {
		t.Fatalf("expected exactly one hello@1.1.0, got (%v, %v)", results, err)
	}
}

func TestReverseDeps(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.RecordInstall(ctx, "app", "1.0.0", "", true, 0, nil,
		[]Dependency{{DependsOn: "libfoo", Kind: "runtime"}}); err != nil {
		t.Fatalf("RecordInstall app: %v", err)
	}
	if err := db.RecordInstall(ctx, "libfoo", "1.0.0", "", false, 0, nil, nil); err != nil {
		t.Fatalf("RecordInstall libfoo: %v", err)
	}

	installers, err := db.ReverseDeps(ctx, "libfoo")
	if err != nil {
		t.Fatalf("ReverseDeps: %v", err)
	}
	if len(installers) != 1 || installers[0] != "app" {
		t.Fatalf("unexpected reverse deps: %v", installers)
	}
}

func TestListInstalledExplicitFilter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.RecordInstall(ctx, "app", "1.0.0", "", true, 0, nil, nil); err != nil {
		t.Fatalf("RecordInstall app: %v", err)
	}
	if err := db.RecordInstall(ctx, "libfoo", "1.0.0", "", false, 0, nil, nil); err != nil {
		t.Fatalf("RecordInstall libfoo: %v", err)
	}

	all, err := db.ListInstalled(ctx, false)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListInstalled(false): got (%v, %v)", all, err)
	}

	explicit, err := db.ListInstalled(ctx, true)
	if err != nil || len(explicit) != 1 || explicit[0].Name != "app" {
		t.Fatalf("ListInstalled(true): got (%v, %v)", explicit, err)
	}
}
