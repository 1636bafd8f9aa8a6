// Package builddef implements local package build definitions: a YAML
// file describing a package's metadata and the files it installs, for
// packages built in-house rather than fetched from a repository or AUR.
// It plays the role the teacher's manifest package plays for .deb — file
// injection with optional text/template rendering — adapted to .rvn's
// fixed-shape metadata and its lack of maintainer scripts.
package builddef

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ravenlinux/rvn/internal/archive"
)

// File describes one payload file to render and place in the package.
type File struct {
	// Src is the source resource: a path relative to the definition file,
	// an absolute path, or an http(s):// URL.
	Src string `yaml:"src"`
	// Dst is the path the file is installed at inside the package, relative
	// to the archive's data/ root.
	Dst string `yaml:"dst"`
	// Raw, when true, skips template rendering (for binary resources).
	Raw bool `yaml:"raw"`
	// Mode is the file's permission bits in octal string form, e.g. "0755".
	// Defaults to "0644".
	Mode string `yaml:"mode"`
	// Conffile marks Dst as a config file in the resulting manifest.
	Conffile bool `yaml:"conffile"`
}

// Package is a local build definition loaded from YAML.
type Package struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	License     string            `yaml:"license"`
	Homepage    string            `yaml:"homepage"`
	Repository  string            `yaml:"repository"`
	Maintainers []string          `yaml:"maintainers"`
	Categories  []string          `yaml:"categories"`
	Defines     map[string]string `yaml:"defines"`
	Injects     []File            `yaml:"injects"`

	filePath string
	engine   *templateEngine
}

// Load reads and parses a build definition file, initializing its
// template engine from its "defines" block.
func Load(path string) (*Package, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading build definition %s: %w", path, err)
	}

	var p Package
	if err := yaml.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("parsing build definition %s: %w", path, err)
	}
	p.filePath = path

	engine, err := newTemplateEngine(p.Defines)
	if err != nil {
		return nil, fmt.Errorf("initializing template engine for %s: %w", path, err)
	}
	p.engine = engine

	if p.Name == "" || p.Version == "" {
		return nil, fmt.Errorf("build definition %s must set name and version", path)
	}
	return &p, nil
}

func (p *Package) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(p.filePath), path)
}

// loadResource fetches Src's content, either from the local filesystem
// (resolved relative to the definition file) or, for http(s):// sources,
// over HTTP, then runs it through the template engine unless raw is set.
func (p *Package) loadResource(src string, raw bool) ([]byte, error) {
	var content []byte

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		resp, err := http.Get(src)
		if err != nil {
			return nil, fmt.Errorf("fetching resource %s: %w", src, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching resource %s: %s", src, resp.Status)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading resource body %s: %w", src, err)
		}
	} else {
		resolved := p.resolve(src)
		var err error
		content, err = os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading resource %s: %w", resolved, err)
		}
	}

	if raw {
		return content, nil
	}
	rendered, err := p.engine.render(src, string(content))
	if err != nil {
		return nil, err
	}
	return []byte(rendered), nil
}

// Resolve renders the definition into a Metadata, Manifest, and an
// in-memory payload keyed by manifest-relative path — the inputs
// archive.Create needs, minus the intermediate step of writing a source
// directory to disk (the caller decides whether to stage one).
func (p *Package) Resolve() (archive.Metadata, archive.Manifest, map[string][]byte, error) {
	meta := archive.Metadata{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		License:     p.License,
		Homepage:    p.Homepage,
		Repository:  p.Repository,
		Maintainers: p.Maintainers,
		Categories:  p.Categories,
	}

	manifest := archive.Manifest{Name: p.Name, Version: p.Version}
	payload := make(map[string][]byte)

	for i, f := range p.Injects {
		dst, err := p.engine.render(fmt.Sprintf("injects[%d].dst", i), f.Dst)
		if err != nil {
			return archive.Metadata{}, archive.Manifest{}, nil, err
		}
		dst = strings.TrimPrefix(dst, "/")

		src, err := p.engine.render(fmt.Sprintf("injects[%d].src", i), f.Src)
		if err != nil {
			return archive.Metadata{}, archive.Manifest{}, nil, err
		}

		mode := int64(0644)
		if f.Mode != "" {
			modeStr, err := p.engine.render(fmt.Sprintf("injects[%d].mode", i), f.Mode)
			if err != nil {
				return archive.Metadata{}, archive.Manifest{}, nil, err
			}
			mode, err = strconv.ParseInt(modeStr, 8, 64)
			if err != nil {
				return archive.Metadata{}, archive.Manifest{}, nil, fmt.Errorf("parsing mode %q: %w", modeStr, err)
			}
		}

		content, err := p.loadResource(src, f.Raw)
		if err != nil {
			return archive.Metadata{}, archive.Manifest{}, nil, err
		}

		manifest.Files = append(manifest.Files, archive.ManifestFile{
			Path:   dst,
			SHA256: archive.HashBytes(content),
			Mode:   uint32(mode),
			Size:   uint64(len(content)),
		})
		payload[dst] = content
		if f.Conffile {
			manifest.ConfigFiles = append(manifest.ConfigFiles, dst)
		}
	}

	return meta, manifest, payload, nil
}

// Stage writes Resolve's payload out to dir, preserving each inject's
// mode, so the result can be handed to archive.Create as a source_dir.
func (p *Package) Stage(dir string) (archive.Metadata, archive.Manifest, error) {
	meta, manifest, payload, err := p.Resolve()
	if err != nil {
		return archive.Metadata{}, archive.Manifest{}, err
	}

	for _, f := range manifest.Files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return archive.Metadata{}, archive.Manifest{}, fmt.Errorf("staging %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dest, payload[f.Path], os.FileMode(f.Mode)); err != nil {
			return archive.Metadata{}, archive.Manifest{}, fmt.Errorf("staging %s: %w", f.Path, err)
		}
	}
	return meta, manifest, nil
}
