// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrToolNotFound is returned by Get for names that were never registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrRegistryFrozen is returned by Register once the registry has been handed to its consumers.
	ErrRegistryFrozen = errors.New("tool registry is frozen")
)

// toolNamePattern matches identifiers accepted as function names by the model API.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// DuplicateToolError reports a second registration under an existing name.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// InvalidSpecError reports a ToolSpec that failed structural validation.
type InvalidSpecError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidSpecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid tool spec %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid tool spec %q: %s", e.Name, e.Reason)
}

func (e *InvalidSpecError) Unwrap() error { return e.Err }

// Registry holds the fixed set of invocable tools.
//
// Description:
//
//	Tools are registered during startup. Freeze is called when the registry
//	is handed to the gateway and the dispatcher; any later Register fails
//	with ErrRegistryFrozen. Reads never block each other.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]ToolSpec
	frozen   bool
	validate *validator.Validate
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for a malformed tag name, which is a programming error.
	if err := v.RegisterValidation("toolname", func(fl validator.FieldLevel) bool {
		return toolNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("tools: registering toolname validation: %v", err))
	}
	return &Registry{
		specs:    make(map[string]ToolSpec),
		validate: v,
	}
}

// Register adds a tool spec.
//
// Inputs:
//   - spec: The tool to add. Name must be unique and match [A-Za-z_][A-Za-z0-9_]*.
//
// Outputs:
//   - error: *DuplicateToolError for a reused name, *InvalidSpecError for a
//     malformed spec, ErrRegistryFrozen after Freeze.
func (r *Registry) Register(spec ToolSpec) error {
	if err := r.check(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registering %q: %w", spec.Name, ErrRegistryFrozen)
	}
	if _, exists := r.specs[spec.Name]; exists {
		return &DuplicateToolError{Name: spec.Name}
	}
	r.specs[spec.Name] = spec.clone()
	return nil
}

// RegisterAll registers every spec in order and stops at the first error.
func (r *Registry) RegisterAll(specs ...ToolSpec) error {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return ToolSpec{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return spec.clone(), nil
}

// List returns all specs sorted by name.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Freeze closes the registry to further registration. Calling it twice is harmless.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) check(spec ToolSpec) error {
	if err := r.validate.Struct(spec); err != nil {
		return &InvalidSpecError{Name: spec.Name, Reason: "spec", Err: err}
	}
	for name, param := range spec.Parameters {
		if !toolNamePattern.MatchString(name) {
			return &InvalidSpecError{Name: spec.Name, Reason: fmt.Sprintf("parameter name %q", name)}
		}
		if err := r.validate.Struct(param); err != nil {
			return &InvalidSpecError{Name: spec.Name, Reason: fmt.Sprintf("parameter %q", name), Err: err}
		}
		if len(param.Enum) > 0 && param.Type != ParamString {
			return &InvalidSpecError{Name: spec.Name, Reason: fmt.Sprintf("parameter %q: enum requires type string", name)}
		}
	}
	return nil
}
