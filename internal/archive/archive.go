// Package archive implements the .rvn package archive format (C1):
// a gzip-compressed tar containing metadata.json, manifest.json, and a
// data/ payload tree, plus streaming SHA-256 hashing.
//
// The format mirrors the teacher's .deb codec (deb.Package.WriteTo/NewPackage)
// in spirit — build the payload archive first, derive the index metadata
// from it, assemble the container last — but the container itself is a
// plain gzip+tar instead of an ar(1) envelope, per spec.md §4.1/§6.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// Metadata is the package identity stored in metadata.json.
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	License     string   `json:"license,omitempty"`
	Homepage    string   `json:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Maintainers []string `json:"maintainers,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// ManifestFile is one regular file entry in manifest.json.
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Mode   uint32 `json:"mode"`
	Size   uint64 `json:"size"`
}

// Symlink is one symlink entry in manifest.json.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// Manifest is the file listing stored in manifest.json.
type Manifest struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Files        []ManifestFile `json:"files"`
	Symlinks     []Symlink      `json:"symlinks"`
	Directories  []string       `json:"directories"`
	ConfigFiles  []string       `json:"config_files"`
}

// AllPaths returns every path the manifest declares (files + symlinks),
// the set a pre-commit collision check or an extraction validation must
// agree with exactly.
func (m *Manifest) AllPaths() []string {
	paths := make([]string, 0, len(m.Files)+len(m.Symlinks))
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	for _, s := range m.Symlinks {
		paths = append(paths, s.Path)
	}
	return paths
}

// IsConfigFile reports whether path is listed in config_files.
func (m *Manifest) IsConfigFile(path string) bool {
	for _, c := range m.ConfigFiles {
		if c == path {
			return true
		}
	}
	return false
}

// TotalSize sums the declared size of every regular file in the manifest.
func (m *Manifest) TotalSize() uint64 {
	var total uint64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

const (
	entryMetadata = "metadata.json"
	entryManifest = "manifest.json"
	dataPrefix    = "data/"
)

// Create writes a .rvn archive to outputPath: metadata.json first (so Info
// is O(1)), manifest.json second, then every manifest file read from
// sourceDir under data/. It fails with ManifestMismatch if sourceDir
// contains a path the manifest doesn't declare, or a declared file's
// content doesn't hash to the value already recorded in manifest.Files.
func Create(metadata Metadata, manifest Manifest, sourceDir, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return &rvnerr.IOError{Path: outputPath, Cause: err}
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, entryMetadata, 0644, metaJSON); err != nil {
		return err
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, entryManifest, 0644, manifestJSON); err != nil {
		return err
	}

	declared := make(map[string]ManifestFile, len(manifest.Files))
	for _, f := range manifest.Files {
		declared[f.Path] = f
	}

	seen := make(map[string]bool, len(manifest.Files))
	walkErr := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		mf, ok := declared[rel]
		if !ok {
			return &rvnerr.ManifestMismatch{Path: rel, Detail: "present in source_dir but absent from manifest"}
		}
		hash, size, err := hashFile(path)
		if err != nil {
			return err
		}
		if hash != mf.SHA256 {
			return &rvnerr.ManifestMismatch{Path: rel, Detail: "content hash does not match manifest"}
		}
		if err := writeFileEntry(tw, dataPrefix+rel, int64(mf.Mode), size, path); err != nil {
			return err
		}
		seen[rel] = true
		return nil
	})
	if walkErr != nil {
		if _, ok := walkErr.(*rvnerr.ManifestMismatch); ok {
			return walkErr
		}
		return &rvnerr.IOError{Path: sourceDir, Cause: walkErr}
	}

	for path := range declared {
		if !seen[path] {
			return &rvnerr.ManifestMismatch{Path: path, Detail: "declared in manifest but absent from source_dir"}
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeEntry(tw *tar.Writer, name string, mode int64, content []byte) error {
	hdr := &tar.Header{Name: name, Mode: mode, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func writeFileEntry(tw *tar.Writer, name string, mode int64, size uint64, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return &rvnerr.IOError{Path: srcPath, Cause: err}
	}
	defer f.Close()

	hdr := &tar.Header{Name: name, Mode: mode, Size: int64(size)}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Info reads only metadata.json, stopping before the manifest or payload —
// since Create always writes metadata.json first, this never has to scan
// past the first tar entry.
func Info(archivePath string) (Metadata, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return Metadata{}, &rvnerr.IOError{Path: archivePath, Cause: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Metadata{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: err.Error()}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		return Metadata{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "empty archive"}
	}
	if hdr.Name != entryMetadata {
		return Metadata{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "metadata.json is not the first entry"}
	}

	var meta Metadata
	if err := json.NewDecoder(tr).Decode(&meta); err != nil {
		return Metadata{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "invalid metadata.json: " + err.Error()}
	}
	return meta, nil
}

// Extract reads metadata.json and manifest.json, validates that exactly the
// manifested file set appears under data/, and extracts data/* into destDir
// preserving mode bits. It fails with CorruptArchive if a required entry is
// missing or the data/ set disagrees with the manifest.
func Extract(archivePath, destDir string) (Metadata, Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return Metadata{}, Manifest{}, &rvnerr.IOError{Path: archivePath, Cause: err}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: err.Error()}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var meta Metadata
	var manifest Manifest
	var haveMeta, haveManifest bool
	seen := make(map[string]bool)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: err.Error()}
		}

		switch {
		case hdr.Name == entryMetadata:
			if err := json.NewDecoder(tr).Decode(&meta); err != nil {
				return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "invalid metadata.json"}
			}
			haveMeta = true
		case hdr.Name == entryManifest:
			if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
				return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "invalid manifest.json"}
			}
			haveManifest = true
		case strings.HasPrefix(hdr.Name, dataPrefix):
			rel := strings.TrimPrefix(hdr.Name, dataPrefix)
			if rel == "" {
				continue
			}
			dest := filepath.Join(destDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return Metadata{}, Manifest{}, &rvnerr.IOError{Path: dest, Cause: err}
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return Metadata{}, Manifest{}, &rvnerr.IOError{Path: dest, Cause: err}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return Metadata{}, Manifest{}, &rvnerr.IOError{Path: dest, Cause: err}
			}
			out.Close()
			if err := os.Chmod(dest, os.FileMode(hdr.Mode)); err != nil {
				return Metadata{}, Manifest{}, &rvnerr.IOError{Path: dest, Cause: err}
			}
			seen[rel] = true
		}
	}

	if !haveMeta || !haveManifest {
		return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "missing metadata.json or manifest.json"}
	}

	for _, mf := range manifest.Files {
		if !seen[mf.Path] {
			return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "manifest file " + mf.Path + " missing from data/"}
		}
		delete(seen, mf.Path)
	}
	for rel := range seen {
		return Metadata{}, Manifest{}, &rvnerr.CorruptArchive{Name: archivePath, Detail: "extra data/ entry " + rel + " not in manifest"}
	}

	return meta, manifest, nil
}

// HashFile computes the streaming SHA-256 of a file, hex-encoded.
func HashFile(path string) (string, error) {
	hash, _, err := hashFile(path)
	return hash, err
}

// HashBytes returns the hex-encoded SHA-256 of content, for callers that
// already hold a file's content in memory (e.g. a rendered build
// definition resource) and don't want to round-trip it through disk
// just to hash it.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, &rvnerr.IOError{Path: path, Cause: err}
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, &rvnerr.IOError{Path: path, Cause: err}
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(size), nil
}

// BuildManifest walks sourceDir and produces a Manifest whose Files/
// Directories/Symlinks reflect the tree on disk, hashing every regular
// file. This is the counterpart to Create for callers (builddef, the AUR
// adapter) that don't already have a manifest in hand.
func BuildManifest(name, version, sourceDir string, configFiles []string) (Manifest, error) {
	m := Manifest{Name: name, Version: version, ConfigFiles: configFiles}

	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			m.Directories = append(m.Directories, rel)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			m.Symlinks = append(m.Symlinks, Symlink{Path: rel, Target: target})
		default:
			hash, size, err := hashFile(path)
			if err != nil {
				return err
			}
			m.Files = append(m.Files, ManifestFile{
				Path:   rel,
				SHA256: hash,
				Mode:   uint32(info.Mode().Perm()),
				Size:   size,
			})
		}
		return nil
	})
	if err != nil {
		return Manifest{}, &rvnerr.IOError{Path: sourceDir, Cause: err}
	}

	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	sort.Strings(m.Directories)
	return m, nil
}
