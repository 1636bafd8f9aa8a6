package aur

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/rvnerr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(Config{RPCURL: srv.URL + "/rpc/"}, nil, logrus.NewEntry(logrus.New()))
	return c, srv
}

func TestSearchReturnsResults(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "search" {
			t.Errorf("expected type=search, got %q", r.URL.Query().Get("type"))
		}
		json.NewEncoder(w).Encode(response{
			Version: 5, Type: "search", ResultCount: 1,
			Results: []Package{{Name: "yay", Version: "12.0.0-1", PackageBase: "yay"}},
		})
	})
	defer srv.Close()

	results, err := c.Search(context.Background(), "yay")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Name != "yay" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestInfoReturnsFirstResult(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{
			Version: 5, Type: "info", ResultCount: 1,
			Results: []Package{{Name: "rare-tool", Version: "1.0.0-1", PackageBase: "rare-tool", Depends: []string{"glibc>=2.30"}}},
		})
	})
	defer srv.Close()

	pkg, err := c.Info(context.Background(), "rare-tool")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if pkg == nil || pkg.Name != "rare-tool" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
}

func TestInfoReturnsNilOnNoResults(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Version: 5, Type: "info", ResultCount: 0})
	})
	defer srv.Close()

	pkg, err := c.Info(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if pkg != nil {
		t.Fatalf("expected nil package, got %+v", pkg)
	}
}

func TestRPCErrorBecomesIndexUnavailable(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Error: "Incorrect request type specified."})
	})
	defer srv.Close()

	_, err := c.Info(context.Background(), "x")
	if _, ok := err.(*rvnerr.IndexUnavailable); !ok {
		t.Fatalf("expected *rvnerr.IndexUnavailable, got %T", err)
	}
}

func TestParseDepNameStripsVersionConstraints(t *testing.T) {
	cases := map[string]string{
		"glibc>=2.30":  "glibc",
		"gcc-libs<12":  "gcc-libs",
		"openssl=1.1":  "openssl",
		"pkgconf:host": "pkgconf",
		"plain-dep":    "plain-dep",
		" spaced ":     "spaced",
	}
	for in, want := range cases {
		if got := ParseDepName(in); got != want {
			t.Errorf("ParseDepName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParsePKGBUILDExtractsFields(t *testing.T) {
	dir := t.TempDir()
	content := `# Maintainer: nobody
pkgname=rare-tool
pkgver=1.2.3
pkgrel=2
pkgdesc="A rarely needed tool"
depends=('glibc>=2.30' 'zlib')
makedepends=(cmake ninja)

build() {
  cmake -B build
}
`
	path := filepath.Join(dir, "PKGBUILD")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	pb, err := ParsePKGBUILD(path)
	if err != nil {
		t.Fatalf("ParsePKGBUILD: %v", err)
	}
	if pb.PkgName != "rare-tool" || pb.PkgVer != "1.2.3" || pb.PkgRel != "2" {
		t.Fatalf("unexpected fields: %+v", pb)
	}
	if pb.Version() != "1.2.3-2" {
		t.Fatalf("Version() = %q, want 1.2.3-2", pb.Version())
	}
	wantDepends := []string{"glibc>=2.30", "zlib"}
	if len(pb.Depends) != len(wantDepends) || pb.Depends[0] != wantDepends[0] || pb.Depends[1] != wantDepends[1] {
		t.Fatalf("Depends = %v, want %v", pb.Depends, wantDepends)
	}
	if len(pb.MakeDepends) != 2 || pb.MakeDepends[0] != "cmake" || pb.MakeDepends[1] != "ninja" {
		t.Fatalf("MakeDepends = %v", pb.MakeDepends)
	}
}

func TestParsePKGBUILDRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "PKGBUILD")
	if err := os.WriteFile(path, []byte("pkgdesc=\"no name or version\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParsePKGBUILD(path); err == nil {
		t.Fatal("expected an error for a PKGBUILD missing pkgname/pkgver")
	}
}

func TestWritePayloadTreeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	manifest := archive.Manifest{
		Directories: []string{"usr/bin"},
		Files: []archive.ManifestFile{
			{Path: "usr/bin/tool", Mode: 0755, Size: 5},
		},
	}
	payload := map[string][]byte{"usr/bin/tool": []byte("hello")}

	if err := writePayloadTree(dir, payload, manifest); err != nil {
		t.Fatalf("writePayloadTree: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "usr/bin/tool"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q, want %q", got, "hello")
	}
}

func TestMaterializeFailsWithOutOfDateWhenConfigured(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{
			Version: 5, Type: "info", ResultCount: 1,
			Results: []Package{{Name: "stale-tool", PackageBase: "stale-tool", OutOfDate: 1700000000}},
		})
	})
	defer srv.Close()
	c.cfg.SkipOutOfDate = true

	_, err := c.Materialize(context.Background(), "stale-tool", func(ctx context.Context, pkgDir, outDir string) error {
		t.Fatal("build should not run when flagged out-of-date and skip_out_of_date is set")
		return nil
	})
	if _, ok := err.(*rvnerr.OutOfDate); !ok {
		t.Fatalf("expected *rvnerr.OutOfDate, got %T (%v)", err, err)
	}
}

func TestMaterializeFailsWithNotFound(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(response{Version: 5, Type: "info", ResultCount: 0})
	})
	defer srv.Close()

	_, err := c.Materialize(context.Background(), "ghost", nil)
	if _, ok := err.(*rvnerr.NotFound); !ok {
		t.Fatalf("expected *rvnerr.NotFound, got %T", err)
	}
}
