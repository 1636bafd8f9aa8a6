package archive

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeSourceTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "usr", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "usr", "bin", "hello"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "etc", "hello.conf"), []byte("greeting=hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func buildFixture(t *testing.T) (Metadata, Manifest, string) {
	t.Helper()
	src := t.TempDir()
	writeSourceTree(t, src)

	manifest, err := BuildManifest("hello", "1.0.0", src, []string{"etc/hello.conf"})
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	meta := Metadata{Name: "hello", Version: "1.0.0", Description: "a greeter"}
	return meta, manifest, src
}

func TestCreateExtractRoundTrip(t *testing.T) {
	meta, manifest, src := buildFixture(t)

	out := filepath.Join(t.TempDir(), "hello-1.0.0.rvn")
	if err := Create(meta, manifest, src, out); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dest := t.TempDir()
	gotMeta, gotManifest, err := Extract(out, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !reflect.DeepEqual(gotMeta, meta) {
		t.Errorf("metadata round-trip mismatch: got %+v, want %+v", gotMeta, meta)
	}
	if len(gotManifest.Files) != len(manifest.Files) {
		t.Fatalf("file count mismatch: got %d, want %d", len(gotManifest.Files), len(manifest.Files))
	}
	if !gotManifest.IsConfigFile("etc/hello.conf") {
		t.Errorf("expected etc/hello.conf to round-trip as a config file")
	}

	body, err := os.ReadFile(filepath.Join(dest, "usr", "bin", "hello"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(body) != "#!/bin/sh\necho hi\n" {
		t.Errorf("extracted file content mismatch: %q", body)
	}

	info, err := os.Stat(filepath.Join(dest, "usr", "bin", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("extracted mode = %o, want 0755", info.Mode().Perm())
	}
}

func TestInfoReadsMetadataOnly(t *testing.T) {
	meta, manifest, src := buildFixture(t)
	out := filepath.Join(t.TempDir(), "hello-1.0.0.rvn")
	if err := Create(meta, manifest, src, out); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := Info(out)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !reflect.DeepEqual(got, meta) {
		t.Errorf("Info mismatch: got %+v, want %+v", got, meta)
	}
}

func TestCreateFailsOnManifestMismatch(t *testing.T) {
	meta, manifest, src := buildFixture(t)

	if err := os.WriteFile(filepath.Join(src, "usr", "bin", "extra"), []byte("surprise"), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "hello-1.0.0.rvn")
	err := Create(meta, manifest, src, out)
	if err == nil {
		t.Fatal("expected ManifestMismatch, got nil")
	}
	if _, ok := err.(interface{ Error() string }); !ok {
		t.Fatalf("expected an error value, got %T", err)
	}
}

func TestCreateFailsOnHashDrift(t *testing.T) {
	meta, manifest, src := buildFixture(t)

	if err := os.WriteFile(filepath.Join(src, "usr", "bin", "hello"), []byte("tampered"), 0755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "hello-1.0.0.rvn")
	if err := Create(meta, manifest, src, out); err == nil {
		t.Fatal("expected a hash-mismatch ManifestMismatch, got nil")
	}
}

func TestExtractFailsOnTruncatedArchive(t *testing.T) {
	dest := t.TempDir()
	bogus := filepath.Join(t.TempDir(), "bogus.rvn")
	if err := os.WriteFile(bogus, []byte("not a gzip stream"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Extract(bogus, dest); err == nil {
		t.Fatal("expected CorruptArchive, got nil")
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}
