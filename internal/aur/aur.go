// Package aur implements the AUR adapter (C6): RPC search/info against the
// Arch User Repository's compatibility endpoint, shallow git-clone of a
// PKGBUILD-bearing tree, a minimal PKGBUILD field scraper, build recipe
// orchestration, and materialization into a .rvn archive fed into C1/C4 —
// the fallback path the resolver takes once every configured repository has
// missed.
package aur

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/cache"
	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// Package is one AUR RPC result, following the upstream schema verbatim
// (PascalCase field names) per spec.md §6.
type Package struct {
	Name         string   `json:"Name"`
	Version      string   `json:"Version"`
	Description  string   `json:"Description"`
	URL          string   `json:"URL"`
	License      []string `json:"License"`
	Maintainer   string   `json:"Maintainer"`
	NumVotes     int      `json:"NumVotes"`
	Popularity   float64  `json:"Popularity"`
	OutOfDate    int64    `json:"OutOfDate"` // unix-seconds, 0 if not flagged
	PackageBase  string   `json:"PackageBase"`
	URLPath      string   `json:"URLPath"`
	Depends      []string `json:"Depends"`
	MakeDepends  []string `json:"MakeDepends"`
	OptDepends   []string `json:"OptDepends"`
	CheckDepends []string `json:"CheckDepends"`
	Provides     []string `json:"Provides"`
	Conflicts    []string `json:"Conflicts"`
	Replaces     []string `json:"Replaces"`
}

// response is the RPC envelope around a slice of Package results.
type response struct {
	Version     int       `json:"version"`
	Type        string    `json:"type"`
	ResultCount int       `json:"resultcount"`
	Results     []Package `json:"results"`
	Error       string    `json:"error"`
}

// AllDependencies returns runtime plus build-time dependency strings,
// still carrying any version-constraint operator.
func (p Package) AllDependencies() []string {
	deps := make([]string, 0, len(p.Depends)+len(p.MakeDepends))
	deps = append(deps, p.Depends...)
	deps = append(deps, p.MakeDepends...)
	return deps
}

// ParseDepName strips a version-constraint suffix ("<", ">", "=", ":") from
// an AUR dependency string, leaving the bare package name — ported from
// the original AurPackage::parse_dep_name so AUR-sourced dependency edges
// resolve against the same plain names the resolver deals in.
func ParseDepName(dep string) string {
	name := dep
	if i := strings.IndexAny(dep, "<>=:"); i >= 0 {
		name = dep[:i]
	}
	return strings.TrimSpace(name)
}

// Config is the [aur] section of config.toml.
type Config struct {
	Enabled       bool
	BaseURL       string
	RPCURL        string
	CacheDir      string
	BuildDir      string
	CleanBuild    bool
	SkipOutOfDate bool
}

// Client is the AUR adapter: RPC search/info plus materialize-from-source.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	log        *logrus.Entry
}

// NewClient constructs a Client. cache is where a materialized .rvn lands
// after a successful build.
func NewClient(cfg Config, c *cache.Cache, log *logrus.Entry) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      c,
		log:        log,
	}
}

// Search performs `type=search` against the configured RPC endpoint.
func (c *Client) Search(ctx context.Context, query string) ([]Package, error) {
	return c.rpc(ctx, "search", query)
}

// Info performs `type=info` against the configured RPC endpoint, returning
// the first result or (nil, nil) if the name has no AUR entry.
func (c *Client) Info(ctx context.Context, name string) (*Package, error) {
	results, err := c.rpc(ctx, "info", name)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func (c *Client) rpc(ctx context.Context, kind, arg string) ([]Package, error) {
	u := strings.TrimSuffix(c.cfg.RPCURL, "/") + "/?" + url.Values{
		"v":     {"5"},
		"type":  {kind},
		"arg[]": {arg},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: "aur", Detail: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: "aur", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &rvnerr.IndexUnavailable{Repo: "aur", Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: "aur", Detail: "parsing RPC response: " + err.Error()}
	}
	if env.Error != "" {
		return nil, &rvnerr.IndexUnavailable{Repo: "aur", Detail: env.Error}
	}
	return env.Results, nil
}

// Materialized is what a successful Materialize produces: enough fields to
// build a resolver.Candidate / repo.Package without either package
// importing aur directly.
type Materialized struct {
	Name          string
	Version       string
	Dependencies  []string
	Filename      string
	SHA256        string
	CachePath     string
	DownloadSize  uint64
	InstalledSize uint64
}

// BuildFunc invokes a distro-supplied build driver against the cloned
// PKGBUILD tree, producing a payload directory. The contract (per
// spec.md §4.6) is "produce a directory tree matching an in-memory
// manifest" — how that happens (makepkg, a container build, a native Go
// build step) is left to the caller.
type BuildFunc func(ctx context.Context, pkgDir, outDir string) error

// Materialize runs the full AUR fallback path for name: clone, parse,
// build, package, cache. build is invoked with the cloned PKGBUILD
// directory and an empty output directory to populate.
func (c *Client) Materialize(ctx context.Context, name string, build BuildFunc) (*Materialized, error) {
	pkg, err := c.Info(ctx, name)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, &rvnerr.NotFound{Name: name}
	}
	if pkg.OutOfDate != 0 && c.cfg.SkipOutOfDate {
		return nil, &rvnerr.OutOfDate{Name: name}
	}

	workDir := filepath.Join(c.cfg.BuildDir, pkg.PackageBase)
	if err := os.RemoveAll(workDir); err != nil {
		return nil, &rvnerr.IOError{Path: workDir, Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(workDir), 0755); err != nil {
		return nil, &rvnerr.IOError{Path: workDir, Cause: err}
	}

	if err := c.clone(ctx, pkg.PackageBase, workDir); err != nil {
		return nil, err
	}
	if c.cfg.CleanBuild {
		defer os.RemoveAll(workDir)
	}

	pb, err := ParsePKGBUILD(filepath.Join(workDir, "PKGBUILD"))
	if err != nil {
		return nil, err
	}

	outDir := workDir + ".out"
	if err := os.RemoveAll(outDir); err != nil {
		return nil, &rvnerr.IOError{Path: outDir, Cause: err}
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, &rvnerr.IOError{Path: outDir, Cause: err}
	}
	if c.cfg.CleanBuild {
		defer os.RemoveAll(outDir)
	}

	c.log.WithFields(logrus.Fields{"name": pb.PkgName, "version": pb.Version()}).Info("building AUR package")
	if err := build(ctx, workDir, outDir); err != nil {
		return nil, &rvnerr.BuildFailed{Name: name, ExitCode: exitCodeOf(err), StderrTail: err.Error()}
	}

	var manifest archive.Manifest
	payloadDir := outDir

	debPath, isDeb := singleDebFile(outDir)
	if isDeb {
		f, err := os.Open(debPath)
		if err != nil {
			return nil, &rvnerr.IOError{Path: debPath, Cause: err}
		}
		var dataFiles map[string][]byte
		manifest, dataFiles, err = archive.FromDeb(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		payloadDir = outDir + ".payload"
		if err := writePayloadTree(payloadDir, dataFiles, manifest); err != nil {
			return nil, err
		}
		if c.cfg.CleanBuild {
			defer os.RemoveAll(payloadDir)
		}
	} else {
		manifest, err = archive.BuildManifest(pb.PkgName, pb.Version(), outDir, nil)
		if err != nil {
			return nil, err
		}
	}
	manifest.Name = pb.PkgName
	manifest.Version = pb.Version()

	meta := archive.Metadata{
		Name:        pb.PkgName,
		Version:     pb.Version(),
		Description: pkg.Description,
		Homepage:    pkg.URL,
		Maintainers: nonEmptySlice(pkg.Maintainer),
	}
	if len(pkg.License) > 0 {
		meta.License = pkg.License[0]
	}

	rvnPath := filepath.Join(c.cfg.BuildDir, fmt.Sprintf("%s-%s.rvn", pb.PkgName, pb.Version()))
	if err := archive.Create(meta, manifest, payloadDir, rvnPath); err != nil {
		return nil, err
	}

	sha, err := archive.HashFile(rvnPath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(rvnPath)
	cachedPath, err := c.cache.Put(filename, rvnPath)
	if err != nil {
		return nil, err
	}

	return &Materialized{
		Name:          pb.PkgName,
		Version:       pb.Version(),
		Dependencies:  depNames(pb.Depends),
		Filename:      filename,
		SHA256:        sha,
		CachePath:     cachedPath,
		InstalledSize: manifest.TotalSize(),
	}, nil
}

func (c *Client) clone(ctx context.Context, pkgbase, dest string) error {
	cloneURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + pkgbase + ".git"
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &rvnerr.BuildFailed{Name: pkgbase, ExitCode: exitCodeOf(err), StderrTail: lastLines(string(out), 20)}
	}
	return nil
}

func depNames(deps []string) []string {
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		out = append(out, ParseDepName(d))
	}
	return out
}

func nonEmptySlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// writePayloadTree materializes an in-memory FromDeb payload onto disk so
// archive.Create, which always reads a manifest's files from a source
// directory, can assemble the .rvn without a second, memory-based code
// path. Directories and symlinks come from the manifest; only manifest
// Files need their content written.
func writePayloadTree(dir string, payload map[string][]byte, manifest archive.Manifest) error {
	for _, d := range manifest.Directories {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(d)), 0755); err != nil {
			return &rvnerr.IOError{Path: d, Cause: err}
		}
	}
	for _, f := range manifest.Files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return &rvnerr.IOError{Path: dest, Cause: err}
		}
		if err := os.WriteFile(dest, payload[f.Path], os.FileMode(f.Mode)); err != nil {
			return &rvnerr.IOError{Path: dest, Cause: err}
		}
	}
	for _, s := range manifest.Symlinks {
		dest := filepath.Join(dir, filepath.FromSlash(s.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return &rvnerr.IOError{Path: dest, Cause: err}
		}
		if err := os.Symlink(s.Target, dest); err != nil {
			return &rvnerr.IOError{Path: dest, Cause: err}
		}
	}
	return nil
}

func singleDebFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var deb string
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".deb") {
			deb = filepath.Join(dir, e.Name())
			count++
		}
	}
	return deb, count == 1
}

func exitCodeOf(err error) int {
	if ee, ok := asExitError(err); ok {
		return ee
	}
	return -1
}

func asExitError(err error) (int, bool) {
	type exitCoder interface{ ExitCode() int }
	if ee, ok := err.(exitCoder); ok {
		return ee.ExitCode(), true
	}
	return 0, false
}

func lastLines(s string, n int) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
