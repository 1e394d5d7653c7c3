// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed runtime/prelude.rs
var prelude string

// Prelude returns the runtime module embedded in every generated program.
func Prelude() string {
	return prelude
}

// Param is one decoded precondition argument.
type Param struct {
	Name string
	Type string
}

// PreconditionEntry is one contract's precondition as rendered source.
type PreconditionEntry struct {
	Params    []Param
	Uses      []string
	Predicate string
}

// Term is one closed expression to evaluate.
type Term struct {
	Source string
	Uses   []string
}

const header = `#![allow(unused, unused_imports, unused_parens, non_snake_case, dead_code, clippy::all)]
`

var funcs = template.FuncMap{
	"prelude": Prelude,
	"use":     useStmt,
}

// useStmt normalizes a use path, with or without its keyword and
// semicolon, to a use statement.
func useStmt(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "use ")
	return "use " + strings.TrimSuffix(path, ";") + ";"
}

var preconditionTmpl = template.Must(template.New("precondition").Funcs(funcs).Parse(header + `{{prelude}}
{{range $i, $e := .}}
fn precondition_{{$i}}(__attest_contents: &[serde_json::Value]) -> serde_json::Value {
    use attest_rt::eval;
{{- range $e.Uses}}
    {{use .}}
{{- end}}
    if __attest_contents.len() != {{len $e.Params}} {
        return attest_rt::error(format!("precondition {{$i}}: expected {{len $e.Params}} values, got {}", __attest_contents.len()));
    }
{{- range $j, $p := $e.Params}}
    let {{$p.Name}}: {{$p.Type}} = match attest_rt::decode(__attest_contents, {{$j}}) {
        Ok(v) => v,
        Err(e) => return e,
    };
{{- end}}
    match attest_rt::catch(move || -> bool { {{$e.Predicate}} }) {
        Ok(b) => attest_rt::ok(serde_json::Value::Bool(b)),
        Err(msg) => attest_rt::caught(msg),
    }
}
{{end}}
fn main() {
    attest_rt::serve(|__attest_id, __attest_contents| match __attest_id {
{{- range $i, $e := .}}
        {{$i}} => precondition_{{$i}}(__attest_contents),
{{- end}}
        _ => attest_rt::error(format!("unknown precondition {}", __attest_id)),
    });
}
`))

var batchTmpl = template.Must(template.New("batch").Funcs(funcs).Parse(header + `{{prelude}}
fn main() {
    attest_rt::silence_panics();
    let mut __attest_results: Vec<serde_json::Value> = Vec::new();
{{- range .}}
    __attest_results.push(attest_rt::outcome(attest_rt::catch(|| {
        use attest_rt::eval;
{{- range .Uses}}
        {{use .}}
{{- end}}
        attest_rt::ToSource::to_source(&({{.Source}}))
    })));
{{- end}}
    println!("{}", serde_json::Value::Array(__attest_results));
}
`))

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s program: %w", t.Name(), err)
	}
	return b.String(), nil
}

// PreconditionProgram renders a server answering
// {"id": n, "contents": [...]} with entry n's verdict on the decoded
// values, tagged Ok(bool) or Caught(message).
func PreconditionProgram(entries []PreconditionEntry) (string, error) {
	return render(preconditionTmpl, entries)
}

// BatchProgram renders a one-shot program printing a single JSON array
// with one Ok(source) or Caught(message) per term, in order.
func BatchProgram(terms []Term) (string, error) {
	return render(batchTmpl, terms)
}
