// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contract

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sort"
)

// Dependency is one crate requirement, in Cargo manifest form.
type Dependency struct {
	Version         string   `toml:"version,omitempty"`
	Path            string   `toml:"path,omitempty"`
	Git             string   `toml:"git,omitempty"`
	Branch          string   `toml:"branch,omitempty"`
	Rev             string   `toml:"rev,omitempty"`
	Package         string   `toml:"package,omitempty"`
	Features        []string `toml:"features,omitempty"`
	DefaultFeatures *bool    `toml:"default-features,omitempty"`
}

// Equal reports whether d and o describe the same requirement. Feature
// order is ignored.
func (d Dependency) Equal(o Dependency) bool {
	if d.Version != o.Version || d.Path != o.Path || d.Git != o.Git ||
		d.Branch != o.Branch || d.Rev != o.Rev || d.Package != o.Package {
		return false
	}
	if (d.DefaultFeatures == nil) != (o.DefaultFeatures == nil) ||
		(d.DefaultFeatures != nil && *d.DefaultFeatures != *o.DefaultFeatures) {
		return false
	}
	a, b := slices.Clone(d.Features), slices.Clone(o.Features)
	sort.Strings(a)
	sort.Strings(b)
	return slices.Equal(a, b)
}

// Dependencies maps crate names to requirements.
type Dependencies map[string]Dependency

// Clone returns an independent copy.
func (d Dependencies) Clone() Dependencies {
	if d == nil {
		return nil
	}
	out := make(Dependencies, len(d))
	for name, dep := range d {
		dep.Features = slices.Clone(dep.Features)
		out[name] = dep
	}
	return out
}

// Compatible reports whether every crate named by both d and o has the
// same requirement in each.
func (d Dependencies) Compatible(o Dependencies) bool {
	for name, dep := range o {
		if mine, ok := d[name]; ok && !mine.Equal(dep) {
			return false
		}
	}
	return true
}

// Merge returns the union of d and o. A crate required differently by
// each is ErrDependencyConflict.
func (d Dependencies) Merge(o Dependencies) (Dependencies, error) {
	out := d.Clone()
	if out == nil {
		out = make(Dependencies, len(o))
	}
	for _, name := range slices.Sorted(maps.Keys(o)) {
		dep := o[name]
		if mine, ok := out[name]; ok && !mine.Equal(dep) {
			return nil, fmt.Errorf("%w: %q is required as %+v and as %+v", ErrDependencyConflict, name, mine, dep)
		}
		dep.Features = slices.Clone(dep.Features)
		out[name] = dep
	}
	return out, nil
}

// Normalize makes relative path requirements absolute against base.
func (d Dependencies) Normalize(base string) error {
	for name, dep := range d {
		if dep.Path == "" || filepath.IsAbs(dep.Path) {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(base, dep.Path))
		if err != nil {
			return fmt.Errorf("normalize path of dependency %q: %w", name, err)
		}
		dep.Path = abs
		d[name] = dep
	}
	return nil
}
