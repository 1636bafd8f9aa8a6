// Package resolver implements the dependency resolver (C5): transitive
// closure of an explicit install request across the installed DB and
// the configured package sources, cycle detection, a deterministic
// topological sort, and fixed-point orphan detection for removal.
package resolver

import (
	"context"
	"sort"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// Source tags where a planned package was found.
type Source string

const (
	SourceRepo Source = "repo"
	SourceAUR  Source = "aur"
)

// Candidate is what a PackageProvider returns for one resolved name: enough
// information to plan an install without yet touching the filesystem.
type Candidate struct {
	Name         string
	Version      string
	Source       Source
	Repo         string // repository name, or "aur"
	Filename     string
	SHA256       string
	Size         uint64
	Dependencies []string // runtime dependency names
}

// PackageProvider looks up a package by name across repositories and,
// as a fallback, AUR. Implemented by a thin adapter over
// repo.MultiRepoClient + internal/aur so the resolver stays decoupled
// from network and process-spawning concerns (and is unit-testable with
// an in-memory fake).
type PackageProvider interface {
	Find(ctx context.Context, name string) (Candidate, bool, error)
}

// InstalledChecker answers whether a package is already installed (not
// at which version) — the subset of internal/store's DB the resolver
// needs.
type InstalledChecker interface {
	IsInstalled(ctx context.Context, name string) (bool, error)
}

// Action is one entry of a resolved install Plan.
type Action struct {
	Name         string
	Version      string
	Size         uint64
	Source       Source
	Repo         string
	Filename     string
	SHA256       string
	IsExplicit   bool
	Dependencies []string
}

// Plan is a deterministically ordered sequence of install Actions:
// every dependency precedes its dependant.
type Plan []Action

// Resolve computes the transitive install closure for an explicit
// request set, per spec.md §4.5. Packages already installed are
// skipped entirely (not added to the plan). Fails with NotFound if no
// provider has a requested or transitively-depended-on name, and with
// DependencyCycle if the dependency graph among newly-planned packages
// has a non-trivial cycle.
//
// A name is resolved to a Candidate at most once per call (the first
// provider.Find result for it wins; later edges into an already-resolved
// name are no-ops), so this closure can never itself produce two
// different versions of one name — PackageProvider is the single seam
// that picks a version per name (core.Provider: configured repo first,
// relaxed-newest among same-name index entries via internal/version,
// AUR as fallback), and it is what spec.md's plan-time VersionConflict
// check (txn.go, staged archive's manifest version against the action's
// planned version) guards.
func Resolve(ctx context.Context, installed InstalledChecker, provider PackageProvider, requested []string) (Plan, error) {
	explicit := make(map[string]bool, len(requested))
	for _, name := range requested {
		explicit[name] = true
	}

	actions := make(map[string]*Action)
	edges := make(map[string][]string)
	queued := make(map[string]bool)
	var queue []string

	for _, name := range requested {
		already, err := installed.IsInstalled(ctx, name)
		if err != nil {
			return nil, err
		}
		if already {
			continue
		}
		if !queued[name] {
			queue = append(queue, name)
			queued[name] = true
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if _, done := actions[name]; done {
			continue
		}

		cand, found, err := provider.Find(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &rvnerr.NotFound{Name: name}
		}

		actions[name] = &Action{
			Name:         cand.Name,
			Version:      cand.Version,
			Size:         cand.Size,
			Source:       cand.Source,
			Repo:         cand.Repo,
			Filename:     cand.Filename,
			SHA256:       cand.SHA256,
			IsExplicit:   explicit[name],
			Dependencies: cand.Dependencies,
		}

		for _, dep := range cand.Dependencies {
			already, err := installed.IsInstalled(ctx, dep)
			if err != nil {
				return nil, err
			}
			if already {
				continue
			}
			edges[name] = append(edges[name], dep)
			if !queued[dep] {
				queue = append(queue, dep)
				queued[dep] = true
			}
		}
	}

	order, err := topoSort(actions, edges)
	if err != nil {
		return nil, err
	}

	plan := make(Plan, 0, len(order))
	for _, name := range order {
		plan = append(plan, *actions[name])
	}
	return plan, nil
}

// topoSort orders actions so every dependency precedes its dependant,
// detecting cycles via Tarjan's strongly-connected-components algorithm
// first (a non-trivial SCC, or a self-loop, is a DependencyCycle) and
// otherwise producing a deterministic order (name-ascending tie-break)
// via Kahn's algorithm.
func topoSort(actions map[string]*Action, edges map[string][]string) ([]string, error) {
	if cycle := findCycle(actions, edges); cycle != nil {
		return nil, &rvnerr.DependencyCycle{Names: cycle}
	}

	indegree := make(map[string]int, len(actions))
	for name := range actions {
		indegree[name] = 0
	}
	for _, deps := range edges {
		for _, dep := range deps {
			if _, ok := actions[dep]; ok {
				indegree[dep]++
			}
		}
	}

	// Kahn's algorithm, but edges point dependant -> dependency, so
	// "ready" nodes are ones with no unresolved dependants pointing at a
	// dependency yet to be placed. We invert by tracking remaining deps
	// per node instead of indegree-from-edges directly.
	remainingDeps := make(map[string]map[string]bool, len(actions))
	for name := range actions {
		remainingDeps[name] = make(map[string]bool)
	}
	for name, deps := range edges {
		for _, dep := range deps {
			if _, ok := actions[dep]; ok {
				remainingDeps[name][dep] = true
			}
		}
	}

	dependants := make(map[string][]string)
	for name, deps := range remainingDeps {
		for dep := range deps {
			dependants[dep] = append(dependants[dep], name)
		}
	}

	var ready []string
	for name, deps := range remainingDeps {
		if len(deps) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	placed := make(map[string]bool, len(actions))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		if placed[name] {
			continue
		}
		order = append(order, name)
		placed[name] = true

		for _, dependant := range dependants[name] {
			delete(remainingDeps[dependant], name)
			if len(remainingDeps[dependant]) == 0 && !placed[dependant] {
				ready = append(ready, dependant)
			}
		}
	}

	if len(order) != len(actions) {
		// Should be unreachable since findCycle already rejected any cycle,
		// but guard rather than silently return a partial, unsafe order.
		var remaining []string
		for name := range actions {
			if !placed[name] {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &rvnerr.DependencyCycle{Names: remaining}
	}
	return order, nil
}

// findCycle runs Tarjan's SCC algorithm over the edges restricted to
// nodes present in actions, returning the names of the first non-trivial
// SCC (or self-loop) found, or nil if the graph is acyclic.
func findCycle(actions map[string]*Action, edges map[string][]string) []string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string

	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)

	var sccs [][]string
	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		deps := append([]string(nil), edges[v]...)
		sort.Strings(deps)
		for _, w := range deps {
			if _, ok := actions[w]; !ok {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, name := range names {
		if _, visited := indices[name]; !visited {
			strongconnect(name)
		}
	}

	for _, scc := range sccs {
		if len(scc) > 1 {
			sort.Strings(scc)
			return scc
		}
		// A single-node SCC with a self-edge is also a cycle.
		n := scc[0]
		for _, dep := range edges[n] {
			if dep == n {
				return scc
			}
		}
	}
	return nil
}
