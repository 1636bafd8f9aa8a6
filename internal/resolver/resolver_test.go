package resolver

import (
	"context"
	"reflect"
	"testing"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

type fakeProvider struct {
	packages map[string]Candidate
}

func (f *fakeProvider) Find(_ context.Context, name string) (Candidate, bool, error) {
	c, ok := f.packages[name]
	return c, ok, nil
}

type fakeInstalled struct {
	names map[string]bool
}

func (f *fakeInstalled) IsInstalled(_ context.Context, name string) (bool, error) {
	return f.names[name], nil
}

func names(plan Plan) []string {
	out := make([]string, len(plan))
	for i, a := range plan {
		out[i] = a.Name
	}
	return out
}

func TestResolveLinearDependencyChain(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{
		"app":     {Name: "app", Version: "1.0.0", Dependencies: []string{"libfoo"}},
		"libfoo":  {Name: "libfoo", Version: "2.0.0", Dependencies: []string{"libbar"}},
		"libbar":  {Name: "libbar", Version: "3.0.0"},
	}}
	installed := &fakeInstalled{names: map[string]bool{}}

	plan, err := Resolve(context.Background(), installed, provider, []string{"app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := names(plan)
	want := []string{"libbar", "libfoo", "app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan order = %v, want %v", got, want)
	}

	for _, a := range plan {
		if a.Name == "app" && !a.IsExplicit {
			t.Error("app should be marked explicit")
		}
		if a.Name == "libfoo" && a.IsExplicit {
			t.Error("libfoo should not be marked explicit")
		}
	}
}

func TestResolveSkipsAlreadyInstalled(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{
		"app": {Name: "app", Version: "1.0.0", Dependencies: []string{"libfoo"}},
	}}
	installed := &fakeInstalled{names: map[string]bool{"libfoo": true}}

	plan, err := Resolve(context.Background(), installed, provider, []string{"app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan) != 1 || plan[0].Name != "app" {
		t.Fatalf("expected only app in plan, got %v", names(plan))
	}
}

func TestResolveRequestAlreadyInstalledProducesEmptyPlan(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{}}
	installed := &fakeInstalled{names: map[string]bool{"app": true}}

	plan, err := Resolve(context.Background(), installed, provider, []string{"app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %v", names(plan))
	}
}

func TestResolveFailsWithNotFound(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{}}
	installed := &fakeInstalled{names: map[string]bool{}}

	_, err := Resolve(context.Background(), installed, provider, []string{"ghost"})
	if err == nil {
		t.Fatal("expected NotFound, got nil")
	}
	if _, ok := err.(*rvnerr.NotFound); !ok {
		t.Fatalf("expected *rvnerr.NotFound, got %T", err)
	}
}

func TestResolveFailsWithDependencyCycle(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{
		"a": {Name: "a", Version: "1.0.0", Dependencies: []string{"b"}},
		"b": {Name: "b", Version: "1.0.0", Dependencies: []string{"c"}},
		"c": {Name: "c", Version: "1.0.0", Dependencies: []string{"a"}},
	}}
	installed := &fakeInstalled{names: map[string]bool{}}

	_, err := Resolve(context.Background(), installed, provider, []string{"a"})
	if err == nil {
		t.Fatal("expected DependencyCycle, got nil")
	}
	cycle, ok := err.(*rvnerr.DependencyCycle)
	if !ok {
		t.Fatalf("expected *rvnerr.DependencyCycle, got %T", err)
	}
	if len(cycle.Names) != 3 {
		t.Fatalf("expected all 3 cyclic names reported, got %v", cycle.Names)
	}
}

func TestResolveDiamondDependencyInstallsDepOnce(t *testing.T) {
	provider := &fakeProvider{packages: map[string]Candidate{
		"app":  {Name: "app", Version: "1.0.0", Dependencies: []string{"left", "right"}},
		"left": {Name: "left", Version: "1.0.0", Dependencies: []string{"shared"}},
		"right": {Name: "right", Version: "1.0.0", Dependencies: []string{"shared"}},
		"shared": {Name: "shared", Version: "1.0.0"},
	}}
	installed := &fakeInstalled{names: map[string]bool{}}

	plan, err := Resolve(context.Background(), installed, provider, []string{"app"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("expected exactly 4 actions (no duplicate shared), got %v", names(plan))
	}

	pos := make(map[string]int, len(plan))
	for i, a := range plan {
		pos[a.Name] = i
	}
	if pos["shared"] > pos["left"] || pos["shared"] > pos["right"] || pos["left"] > pos["app"] || pos["right"] > pos["app"] {
		t.Fatalf("dependency ordering violated: %v", names(plan))
	}
}

func TestFindOrphansWithoutPurgeOnlyRemovesTargets(t *testing.T) {
	installed := []InstalledNode{
		{Name: "app", Explicit: true, DependsOn: []string{"libfoo"}},
		{Name: "libfoo", Explicit: false},
	}
	got := FindOrphans(installed, []string{"app"}, false)
	want := []string{"app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFindOrphansWithPurgeRemovesDanglingDeps(t *testing.T) {
	installed := []InstalledNode{
		{Name: "app", Explicit: true, DependsOn: []string{"libfoo"}},
		{Name: "libfoo", Explicit: false, DependsOn: []string{"libbar"}},
		{Name: "libbar", Explicit: false},
		{Name: "unrelated", Explicit: false},
	}
	got := FindOrphans(installed, []string{"app"}, true)
	want := []string{"app", "libbar", "libfoo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFindOrphansKeepsSharedDependency(t *testing.T) {
	installed := []InstalledNode{
		{Name: "app", Explicit: true, DependsOn: []string{"libshared"}},
		{Name: "other", Explicit: true, DependsOn: []string{"libshared"}},
		{Name: "libshared", Explicit: false},
	}
	got := FindOrphans(installed, []string{"app"}, true)
	want := []string{"app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v (libshared still used by other)", got, want)
	}
}
