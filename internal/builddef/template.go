package builddef

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

// templateEngine renders text/template strings against a set of named
// defines, resolving defines that reference other defines in dependency
// order rather than requiring the YAML author to list them top-down.
type templateEngine struct {
	defines map[string]string
}

// newTemplateEngine builds an engine from a definition's top-level
// "defines" map, rendering each value (in dependency order) against the
// defines already resolved so far.
func newTemplateEngine(defines map[string]string) (*templateEngine, error) {
	resolved := make(map[string]string)
	e := &templateEngine{defines: resolved}

	ordered, err := topoSortDefines(defines)
	if err != nil {
		return nil, err
	}
	for _, kv := range ordered {
		val, err := e.renderAgainst(fmt.Sprintf("define.%s", kv.key), kv.value, resolved)
		if err != nil {
			return nil, err
		}
		resolved[kv.key] = val
	}
	return e, nil
}

// render executes text as a template against the engine's defines. Text
// with no "{{" is returned unchanged — most fields in a definition file
// (a plain destination path, a literal mode string) never reach the
// template parser at all.
func (e *templateEngine) render(name, text string) (string, error) {
	return e.renderAgainst(name, text, e.defines)
}

func (e *templateEngine) renderAgainst(name, text string, defines map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}
	var buf strings.Builder
	if err := t.Execute(&buf, defines); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

type define struct{ key, value string }

// topoSortDefines orders defines so that any define referencing another
// (via "{{.other}}") is rendered after the one it depends on, detecting
// cycles rather than rendering with an unresolved reference.
func topoSortDefines(defines map[string]string) ([]define, error) {
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	deps := make(map[string][]string, len(defines))
	for _, k := range keys {
		v := defines[k]
		if !strings.Contains(v, "{{") {
			continue
		}
		refs, err := referencedFields(k, v)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, ref := range refs {
			if _, ok := defines[ref]; ok && ref != k && !seen[ref] {
				deps[k] = append(deps[k], ref)
				seen[ref] = true
			}
		}
		sort.Strings(deps[k])
	}

	var out []define
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(string) error
	visit = func(k string) error {
		if visiting[k] {
			return fmt.Errorf("cycle detected among defines: %s", k)
		}
		if visited[k] {
			return nil
		}
		visiting[k] = true
		for _, dep := range deps[k] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[k] = false
		visited[k] = true
		out = append(out, define{key: k, value: defines[k]})
		return nil
	}

	for _, k := range keys {
		if err := visit(k); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// referencedFields walks a parsed template and collects the top-level
// field names (".foo") it reads, so topoSortDefines can tell which other
// defines a given define's value depends on.
func referencedFields(name, text string) ([]string, error) {
	trees, err := parse.Parse(name, text, "{{", "}}")
	if err != nil {
		return nil, fmt.Errorf("parsing template for define %s: %w", name, err)
	}

	var fields []string
	var walk func(parse.Node)
	walk = func(n parse.Node) {
		switch node := n.(type) {
		case *parse.ListNode:
			for _, child := range node.Nodes {
				walk(child)
			}
		case *parse.ActionNode:
			walk(node.Pipe)
		case *parse.PipeNode:
			for _, cmd := range node.Cmds {
				walk(cmd)
			}
		case *parse.CommandNode:
			for _, arg := range node.Args {
				walk(arg)
			}
		case *parse.FieldNode:
			if len(node.Ident) > 0 {
				fields = append(fields, node.Ident[0])
			}
		}
	}
	for _, t := range trees {
		if t.Root != nil {
			walk(t.Root)
		}
	}
	return fields, nil
}
