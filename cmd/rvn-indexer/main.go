// Command rvn-indexer harvests .rvn release assets from a set of GitHub
// repositories and assembles them into the index.json a community
// `[[repositories]]` entry of type "github" expects at
// <base>/index.json — the `.rvn` equivalent of the teacher's APT
// Packages/Release scraper, minus Debian's stanza format and GPG
// signing (a .rvn repository is trusted by whoever adds it to
// config.toml, not by a detached signature).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/repo"
)

// sourceRepo is one GitHub repository to harvest .rvn release assets from.
type sourceRepo struct {
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`
	Limit int    `yaml:"limit"`
}

// indexConfig is the YAML input describing which repositories to scrape
// and what name to publish the resulting index under.
type indexConfig struct {
	RepoName string       `yaml:"repo_name"`
	Sources  []sourceRepo `yaml:"sources"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// cacheEntry remembers an already-indexed asset by download URL, so a
// re-run doesn't re-download and re-hash unchanged releases.
type cacheEntry struct {
	SHA256        string `json:"sha256"`
	Size          int64  `json:"size"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description"`
	InstalledSize uint64 `json:"installed_size"`
}

func main() {
	outDir := flag.String("out", "dist", "output directory for index.json and packages/")
	confPath := flag.String("config", "rvn-indexer.yaml", "path to the indexer configuration file")
	cachePath := flag.String("cache-file", "rvn-indexer-cache.json", "path to the asset cache file")
	flag.Parse()

	confData, err := os.ReadFile(*confPath)
	if err != nil {
		fmt.Printf("Fatal: could not read config: %v\n", err)
		os.Exit(1)
	}
	var cfg indexConfig
	if err := yaml.Unmarshal(confData, &cfg); err != nil {
		fmt.Printf("Fatal: parse error: %v\n", err)
		os.Exit(1)
	}

	cache := loadCache(*cachePath)

	packagesDir := filepath.Join(*outDir, "packages")
	if err := os.MkdirAll(packagesDir, 0755); err != nil {
		fmt.Printf("Fatal: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("GITHUB_TOKEN")
	var packages []repo.Package

	for _, src := range cfg.Sources {
		fmt.Printf("Scraping %s/%s...\n", src.Owner, src.Name)
		releases, err := fetchReleases(src.Owner, src.Name, token)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			continue
		}

		indexed := 0
		for _, rel := range releases {
			if src.Limit > 0 && indexed >= src.Limit {
				break
			}
			for _, asset := range rel.Assets {
				if !strings.HasSuffix(asset.Name, ".rvn") {
					continue
				}
				pkg, err := harvest(asset.Name, asset.BrowserDownloadURL, packagesDir, cache)
				if err != nil {
					fmt.Printf("  ! %s: %v\n", asset.Name, err)
					continue
				}
				fmt.Printf("  + %s %s\n", pkg.Name, pkg.Version)
				packages = append(packages, *pkg)
				indexed++
				break
			}
		}
	}

	saveCache(*cachePath, cache)

	idx := repo.Index{Name: cfg.RepoName, Timestamp: time.Now().Unix(), Packages: packages}
	if err := writeIndex(filepath.Join(*outDir, "index.json"), idx); err != nil {
		fmt.Printf("Fatal: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote index.json with %d package(s)\n", len(packages))
}

func fetchReleases(owner, repoName, token string) ([]githubRelease, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases", owner, repoName)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API status %d", resp.StatusCode)
	}

	var releases []githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// harvest downloads one .rvn asset into packagesDir (skipping the download
// if cache already has its metadata and the file is already present), reads
// its embedded Metadata, and returns the repo.Package entry for it.
// Dependencies are left empty: a .rvn archive carries no dependency
// declaration of its own (see internal/archive.Metadata) — a community
// index wanting dependency edges must curate index.json by hand or by
// another tool layered on top of this one.
func harvest(name, url, packagesDir string, cache map[string]cacheEntry) (*repo.Package, error) {
	dest := filepath.Join(packagesDir, name)

	if entry, ok := cache[url]; ok {
		if _, err := os.Stat(dest); err == nil {
			return &repo.Package{
				Name: entry.Name, Version: entry.Version, Description: entry.Description,
				DownloadSize: uint64(entry.Size), InstalledSize: entry.InstalledSize,
				Filename: name, SHA256: entry.SHA256,
			}, nil
		}
	}

	if err := download(url, dest); err != nil {
		return nil, err
	}

	meta, err := archive.Info(dest)
	if err != nil {
		return nil, err
	}
	sha, err := archive.HashFile(dest)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}

	cache[url] = cacheEntry{
		SHA256: sha, Size: stat.Size(), Name: meta.Name, Version: meta.Version,
		Description: meta.Description,
	}

	return &repo.Package{
		Name: meta.Name, Version: meta.Version, Description: meta.Description,
		License: meta.License, DownloadSize: uint64(stat.Size()), Filename: name, SHA256: sha,
	}, nil
}

func download(url, dest string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d downloading %s", resp.StatusCode, url)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(resp.Body)
	return err
}

func writeIndex(path string, idx repo.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(idx)
}

func loadCache(path string) map[string]cacheEntry {
	cache := make(map[string]cacheEntry)
	data, err := os.ReadFile(path)
	if err == nil {
		json.Unmarshal(data, &cache)
	}
	return cache
}

func saveCache(path string, cache map[string]cacheEntry) {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(path, data, 0644)
}
