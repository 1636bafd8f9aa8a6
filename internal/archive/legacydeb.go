package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// FromDeb unpacks a Debian binary package (an ar(1) container holding
// control.tar.gz and data.tar.gz) and returns the Manifest and an
// in-memory payload tree keyed by manifest-relative path, so C6's
// materialize step can adopt a PKGBUILD's .deb output as a .rvn payload
// without re-deriving file metadata from the filesystem.
//
// Only data.tar.gz is read for payload; control.tar.gz is consulted
// solely for the package name/version used to populate the Manifest
// header, since maintainer scripts have no equivalent in this format.
func FromDeb(r io.Reader) (Manifest, map[string][]byte, error) {
	arReader := ar.NewReader(r)

	var name, version string
	payload := make(map[string][]byte)
	var files []ManifestFile
	var symlinks []Symlink
	var dirs []string

	for {
		hdr, err := arReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, nil, &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: err.Error()}
		}

		entryName := strings.TrimPrefix(hdr.Name, "./")
		switch {
		case strings.HasPrefix(entryName, "control.tar"):
			n, v, err := readControlNameVersion(arReader)
			if err != nil {
				return Manifest{}, nil, err
			}
			name, version = n, v

		case strings.HasPrefix(entryName, "data.tar"):
			gz, err := gzip.NewReader(arReader)
			if err != nil {
				return Manifest{}, nil, &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: "data.tar.gz: " + err.Error()}
			}
			tr := tar.NewReader(gz)
			for {
				thdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return Manifest{}, nil, &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: err.Error()}
				}
				rel := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(thdr.Name, "./")), "/")
				if rel == "" || rel == "." {
					continue
				}
				switch thdr.Typeflag {
				case tar.TypeDir:
					dirs = append(dirs, rel)
				case tar.TypeSymlink:
					symlinks = append(symlinks, Symlink{Path: rel, Target: thdr.Linkname})
				case tar.TypeReg:
					buf, err := io.ReadAll(tr)
					if err != nil {
						return Manifest{}, nil, &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: err.Error()}
					}
					sum := sha256.Sum256(buf)
					files = append(files, ManifestFile{
						Path:   rel,
						SHA256: hex.EncodeToString(sum[:]),
						Mode:   uint32(thdr.Mode),
						Size:   uint64(len(buf)),
					})
					payload[rel] = buf
				}
			}
		}
	}

	if name == "" {
		return Manifest{}, nil, &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: "control.tar.gz missing or unparsable"}
	}

	return Manifest{
		Name:        name,
		Version:     version,
		Files:       files,
		Symlinks:    symlinks,
		Directories: dirs,
	}, payload, nil
}

// readControlNameVersion decompresses control.tar.gz far enough to find the
// "control" entry and extracts the Package/Version fields, the same two
// fields the teacher's deb.Package reads off a control file.
func readControlNameVersion(r io.Reader) (name, version string, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", "", &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: "control.tar.gz: " + err.Error()}
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", "", &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: "control entry not found"}
		}
		if err != nil {
			return "", "", &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: err.Error()}
		}
		if strings.TrimPrefix(hdr.Name, "./") != "control" {
			continue
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			return "", "", &rvnerr.CorruptArchive{Name: "legacy .deb", Detail: err.Error()}
		}
		for _, line := range strings.Split(string(buf), "\n") {
			switch {
			case strings.HasPrefix(line, "Package:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "Package:"))
			case strings.HasPrefix(line, "Version:"):
				version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
			}
		}
		return name, version, nil
	}
}
