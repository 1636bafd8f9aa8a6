// Package repo implements the repository client (C3): per-remote HTTP
// fetch of a repository's index.json, name/description search over it,
// and checksum-verified, no-partial-file-left-behind downloads. A
// MultiRepoClient layers several repos in priority order, the way the
// teacher's apt/github packages harvest and merge several package
// sources into one index.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/rvnerr"
	"github.com/ravenlinux/rvn/internal/version"
)

// Package is one entry of a fetched repository index.
type Package struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Description   string   `json:"description"`
	License       string   `json:"license,omitempty"`
	Dependencies  []string `json:"dependencies"`
	BuildDeps     []string `json:"build_deps"`
	DownloadSize  uint64   `json:"download_size"`
	InstalledSize uint64   `json:"installed_size"`
	Filename      string   `json:"filename"`
	SHA256        string   `json:"sha256"`
}

// Index is the parsed shape of a repository's index.json document.
type Index struct {
	Name      string    `json:"name"`
	Timestamp int64     `json:"timestamp"`
	Packages  []Package `json:"packages"`
}

// Kind distinguishes how a remote's URLs are constructed.
type Kind int

const (
	// KindGeneric expects <base>/index.json and <base>/packages/<filename>.
	KindGeneric Kind = iota
	// KindGitHubRaw rewrites those same two paths onto a GitHub raw-content
	// URL, for repositories published as files in a git repo rather than
	// behind a dedicated file server.
	KindGitHubRaw
)

// Client is a single remote's repository client.
type Client struct {
	Name     string
	BaseURL  string
	Kind     Kind
	Priority int // lower value = higher priority, per spec.md §4.3

	httpClient *http.Client
	lastIndex  *Index
}

// NewClient constructs a Client for one configured remote.
func NewClient(name, baseURL string, kind Kind, priority int) *Client {
	return &Client{
		Name:       name,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Kind:       kind,
		Priority:   priority,
		httpClient: &http.Client{},
	}
}

// indexURL and packageURL don't currently branch on Kind: a github-raw
// remote's BaseURL is already a raw.githubusercontent.com tree url by the
// time config construction hands it to NewClient, so it serves the same
// <base>/index.json, <base>/packages/<filename> layout a generic remote
// does. Kind is kept on Client for config validation and future remotes
// whose URL shape actually differs (e.g. a registry with a different path
// convention).
func (c *Client) indexURL() string {
	return c.BaseURL + "/index.json"
}

func (c *Client) packageURL(filename string) string {
	return c.BaseURL + "/packages/" + filename
}

// FetchIndex GETs and parses this remote's index.json.
func (c *Client) FetchIndex(ctx context.Context) (*Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL(), nil)
	if err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: c.Name, Detail: err.Error()}
	}
	req.Header.Set("User-Agent", "rvn/0.1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: c.Name, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &rvnerr.IndexUnavailable{Repo: c.Name, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var idx Index
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		return nil, &rvnerr.IndexUnavailable{Repo: c.Name, Detail: "parsing index.json: " + err.Error()}
	}
	c.lastIndex = &idx
	return &idx, nil
}

// Search performs a case-insensitive substring match on name (and
// description, when includeDescription is set) against the last fetched
// index, fetching one if none is cached yet.
func (c *Client) Search(ctx context.Context, query string, includeDescription bool) ([]Package, error) {
	idx, err := c.index(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []Package
	for _, pkg := range idx.Packages {
		if strings.Contains(strings.ToLower(pkg.Name), needle) ||
			(includeDescription && strings.Contains(strings.ToLower(pkg.Description), needle)) {
			matches = append(matches, pkg)
		}
	}
	return matches, nil
}

// GetPackage returns the newest exact name match from the last fetched
// index, fetching one if none is cached yet. An index's (name, version)
// pairs are unique per spec.md §3, but the same name may appear more than
// once across distinct versions; relaxed-version ordering picks the one
// upgrade would otherwise have to re-derive.
func (c *Client) GetPackage(ctx context.Context, name string) (*Package, error) {
	idx, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	var best *Package
	for i := range idx.Packages {
		if idx.Packages[i].Name != name {
			continue
		}
		if best == nil || version.Parse(idx.Packages[i].Version).Compare(version.Parse(best.Version)) > 0 {
			best = &idx.Packages[i]
		}
	}
	return best, nil
}

func (c *Client) index(ctx context.Context) (*Index, error) {
	if c.lastIndex != nil {
		return c.lastIndex, nil
	}
	return c.FetchIndex(ctx)
}

// Download streams pkg's archive to destDir/<pkg.Filename>, hashing while
// writing. On a checksum mismatch (or any other failure) it removes the
// partial file and returns an error rather than leaving a truncated or
// corrupt file in destDir. progress, if non-nil, is called after each
// chunk with the number of bytes written so far.
func (c *Client) Download(ctx context.Context, pkg Package, destDir string, progress func(written uint64)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.packageURL(pkg.Filename), nil)
	if err != nil {
		return "", &rvnerr.IOError{Path: pkg.Filename, Cause: err}
	}
	req.Header.Set("User-Agent", "rvn/0.1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &rvnerr.IOError{Path: pkg.Filename, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &rvnerr.IOError{Path: pkg.Filename, Cause: fmt.Errorf("HTTP %d downloading %s", resp.StatusCode, pkg.Filename)}
	}

	destPath := filepath.Join(destDir, pkg.Filename)
	out, err := os.Create(destPath)
	if err != nil {
		return "", &rvnerr.IOError{Path: destPath, Cause: err}
	}

	var written uint64
	buf := make([]byte, 32*1024)
	copyErr := func() error {
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, writeErr := out.Write(buf[:n]); writeErr != nil {
					return writeErr
				}
				written += uint64(n)
				if progress != nil {
					progress(written)
				}
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return readErr
			}
		}
	}()
	out.Close()
	if copyErr != nil {
		os.Remove(destPath)
		return "", &rvnerr.IOError{Path: destPath, Cause: copyErr}
	}

	hash, err := archive.HashFile(destPath)
	if err != nil {
		os.Remove(destPath)
		return "", err
	}
	if hash != pkg.SHA256 {
		os.Remove(destPath)
		return "", &rvnerr.ChecksumMismatch{Kind: "package", Name: pkg.Name, Expected: pkg.SHA256, Actual: hash}
	}

	return destPath, nil
}

// MultiRepoClient aggregates several Clients, consulting them in
// ascending Priority order.
type MultiRepoClient struct {
	clients []*Client
}

// NewMultiRepoClient builds a MultiRepoClient, sorting clients ascending
// by Priority (lower value = higher priority).
func NewMultiRepoClient(clients ...*Client) *MultiRepoClient {
	sorted := append([]*Client(nil), clients...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &MultiRepoClient{clients: sorted}
}

// ClientByName returns the configured Client for repo, or nil if no such
// repo is configured — used by the transaction engine to re-resolve a
// planned action's Repo name back to the client that can download it.
func (m *MultiRepoClient) ClientByName(name string) *Client {
	for _, c := range m.clients {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindPackage returns the first hit for name across repos in priority
// order, along with the Client that served it.
func (m *MultiRepoClient) FindPackage(ctx context.Context, name string) (*Client, *Package, error) {
	for _, c := range m.clients {
		pkg, err := c.GetPackage(ctx, name)
		if err != nil {
			continue
		}
		if pkg != nil {
			return c, pkg, nil
		}
	}
	return nil, nil, nil
}

// RepoResult tags a search hit with the repository name that produced it.
type RepoResult struct {
	Repo string
	Package
}

// Search unions search results across every repo, tagging each with its
// repository name. A repo whose search fails is skipped, not fatal.
func (m *MultiRepoClient) Search(ctx context.Context, query string, includeDescription bool) []RepoResult {
	var out []RepoResult
	for _, c := range m.clients {
		matches, err := c.Search(ctx, query, includeDescription)
		if err != nil {
			continue
		}
		for _, pkg := range matches {
			out = append(out, RepoResult{Repo: c.Name, Package: pkg})
		}
	}
	return out
}
