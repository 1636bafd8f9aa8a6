package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/aur"
	"github.com/ravenlinux/rvn/internal/repo"
	"github.com/ravenlinux/rvn/internal/resolver"
)

func TestProviderFindPrefersConfiguredRepoOverAUR(t *testing.T) {
	repoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(repo.Index{
			Name: "main",
			Packages: []repo.Package{
				{Name: "hello", Version: "1.0.0", Filename: "hello-1.0.0.rvn", SHA256: "abc", Dependencies: []string{"libgreet"}},
			},
		})
	}))
	defer repoSrv.Close()

	client := repo.NewClient("main", repoSrv.URL, repo.KindGeneric, 1)
	multi := repo.NewMultiRepoClient(client)

	p := Provider{Repos: multi, AUR: nil, Log: logrus.NewEntry(logrus.New())}

	cand, ok, err := p.Find(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatal("expected a hit from the configured repo")
	}
	if cand.Source != resolver.SourceRepo || cand.Repo != "main" || cand.Version != "1.0.0" {
		t.Fatalf("unexpected candidate: %+v", cand)
	}
}

func TestProviderFindReturnsMissWhenNeitherRepoNorAURHasIt(t *testing.T) {
	repoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(repo.Index{Name: "main"})
	}))
	defer repoSrv.Close()

	aurSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"version": 5, "type": "info", "resultcount": 0, "results": []any{}})
	}))
	defer aurSrv.Close()

	client := repo.NewClient("main", repoSrv.URL, repo.KindGeneric, 1)
	multi := repo.NewMultiRepoClient(client)
	aurClient := aur.NewClient(aur.Config{RPCURL: aurSrv.URL + "/rpc/"}, nil, logrus.NewEntry(logrus.New()))

	p := Provider{Repos: multi, AUR: aurClient, Log: logrus.NewEntry(logrus.New())}

	_, ok, err := p.Find(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatal("expected no hit from either source")
	}
}
