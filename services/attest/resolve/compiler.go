// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
	"github.com/AleutianAI/AleutianAttest/services/attest/marshal"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/workspace"
)

type stub struct {
	Index    int
	Type     string
	Generics string
	Where    string
	Imports  []string
	Generic  bool
}

var stubTmpl = template.Must(template.New("resolve").Funcs(template.FuncMap{
	"quote": marshal.QuoteString,
}).Parse(`#![allow(unused, unused_imports, non_snake_case, non_camel_case_types, dead_code)]
{{range .}}
mod item_{{.Index}} {
{{- range .Imports}}
    use {{.}};
{{- end}}
    pub fn stub{{.Generics}}(_: {{.Type}}) {{.Where}} {}
{{- if not .Generic}}
    pub fn name() -> &'static str {
        std::any::type_name::<{{.Type}}>()
    }
{{- end}}
}
{{end}}
fn main() {
    let names: Vec<&str> = vec![
{{- range .}}
        {{if .Generic}}{{quote .Type}}{{else}}item_{{.Index}}::name(){{end}},
{{- end}}
    ];
    println!("{}", serde_json::to_string(&names).unwrap());
}
`))

// Program renders the stub crate for queries: one module per query
// holding `fn stub<generics>(_: T) where ... {}`, and a main printing the
// compiler's name for every non-generic T as a JSON array.
func Program(queries []Query) (string, error) {
	stubs := make([]stub, len(queries))
	for i, q := range queries {
		imports := make([]string, len(q.Imports))
		for j, imp := range q.Imports {
			imp = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(imp), "use "))
			imports[j] = strings.TrimSuffix(imp, ";")
		}
		stubs[i] = stub{
			Index:    i,
			Type:     ast.Render(q.Type),
			Generics: ast.Render(q.Generics),
			Where:    ast.Render(q.Where),
			Imports:  imports,
			Generic:  q.generic(),
		}
	}
	var b strings.Builder
	if err := stubTmpl.Execute(&b, stubs); err != nil {
		return "", fmt.Errorf("render resolve program: %w", err)
	}
	return b.String(), nil
}

// Compiler resolves types by building and running the stub program.
//
// Thread Safety: Safe for concurrent use.
type Compiler struct {
	runner oracle.Runner
	logger *slog.Logger
}

// NewCompiler creates a Compiler building with runner.
func NewCompiler(runner oracle.Runner, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{runner: runner, logger: logger}
}

// Resolve implements Resolver.
func (c *Compiler) Resolve(ctx context.Context, queries []Query, deps contract.Dependencies) ([]Resolved, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	src, err := Program(queries)
	if err != nil {
		return nil, err
	}

	proc, err := c.runner.CompileAndRun(ctx, src, deps)
	if err != nil {
		var ce *workspace.CompileError
		if errors.As(err, &ce) {
			return nil, &Error{Failed: queries, Diagnostic: ce.Stderr, Err: err}
		}
		return nil, &Error{Failed: queries, Err: err}
	}
	_ = proc.CloseStdin()
	out, readErr := proc.ReadAll()
	if err := errors.Join(readErr, proc.Wait()); err != nil {
		return nil, &Error{Failed: queries, Diagnostic: proc.Stderr(), Err: err}
	}

	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, &Error{Failed: queries, Diagnostic: string(out), Err: fmt.Errorf("decode type names: %w", err)}
	}
	if len(names) != len(queries) {
		return nil, &Error{Failed: queries, Err: fmt.Errorf("expected %d type names, got %d", len(queries), len(names))}
	}

	resolved := make([]Resolved, len(names))
	for i, name := range names {
		resolved[i] = Resolved{Name: name, Kind: KindOf(name)}
	}
	c.logger.Debug("resolved types", slog.Int("queries", len(queries)))
	return resolved, nil
}
