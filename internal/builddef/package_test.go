package builddef

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeDefinition(t *testing.T, dir, yamlBody string) string {
	t.Helper()
	path := filepath.Join(dir, "pkg.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRequiresNameAndVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "description: missing name and version\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a definition missing name/version")
	}
}

func TestResolveRendersDefinesAndTemplates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "motd.txt"), []byte("welcome to {{.greeting}}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path := writeDefinition(t, dir, `
name: motd
version: "1.0.0"
description: a message of the day
defines:
  greeting: "{{.product}}-land"
  product: raven
injects:
  - src: motd.txt
    dst: /etc/motd
    mode: "0644"
    conffile: true
`)
	pkg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	meta, manifest, payload, err := pkg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if meta.Name != "motd" || meta.Version != "1.0.0" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if len(manifest.Files) != 1 || manifest.Files[0].Path != "etc/motd" {
		t.Fatalf("unexpected manifest files: %+v", manifest.Files)
	}
	if !manifest.IsConfigFile("etc/motd") {
		t.Errorf("expected etc/motd to be a config file")
	}
	got := string(payload["etc/motd"])
	want := "welcome to raven-land\n"
	if got != want {
		t.Errorf("rendered payload = %q, want %q", got, want)
	}
}

func TestResolveFetchesHTTPResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("served content\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writeDefinition(t, dir, `
name: fetched
version: "2.0.0"
injects:
  - src: `+srv.URL+`
    dst: /usr/share/fetched/file
    raw: true
`)
	pkg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, manifest, payload, err := pkg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(manifest.Files) != 1 {
		t.Fatalf("expected one file, got %d", len(manifest.Files))
	}
	if string(payload["usr/share/fetched/file"]) != "served content\n" {
		t.Errorf("unexpected fetched content: %q", payload["usr/share/fetched/file"])
	}
}

func TestStageWritesFilesWithMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bin.sh"), []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeDefinition(t, dir, `
name: tool
version: "0.1.0"
injects:
  - src: bin.sh
    dst: /usr/bin/tool
    mode: "0755"
`)
	pkg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	stageDir := t.TempDir()
	_, manifest, err := pkg.Stage(stageDir)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if len(manifest.Files) != 1 {
		t.Fatalf("expected one staged file, got %d", len(manifest.Files))
	}

	info, err := os.Stat(filepath.Join(stageDir, "usr", "bin", "tool"))
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Errorf("staged mode = %o, want 0755", info.Mode().Perm())
	}
}

func TestDefinesResolveInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, `
name: ordering
version: "1.0.0"
defines:
  full: "{{.base}}-{{.suffix}}"
  base: raven
  suffix: core
injects: []
`)
	pkg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := pkg.engine.render("t", "{{.full}}")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "raven-core" {
		t.Errorf("render = %q, want raven-core", got)
	}
}

func TestDefinesCycleIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, `
name: cyclic
version: "1.0.0"
defines:
  a: "{{.b}}"
  b: "{{.a}}"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}
