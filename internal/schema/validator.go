// Package schema compiles and caches JSON-Schema validators per
// (connector, operation) and validates call parameters against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the outcome of a validation attempt.
type Result struct {
	Valid  bool
	Errors []string // human-readable messages, empty when Valid
}

// cacheKey identifies one compiled validator.
type cacheKey struct {
	connector string
	operation string
}

// Validator compiles and caches one *jsonschema.Schema per (connector,
// operation) key, mirroring the lazy-creation pattern of
// ratelimit.Registry.GetOrCreate.
type Validator struct {
	mu    sync.RWMutex
	cache map[cacheKey]*jsonschema.Schema
}

// New returns an empty Validator.
func New() *Validator {
	return &Validator{cache: make(map[cacheKey]*jsonschema.Schema)}
}

// Validate checks params against the (connector, operation) schema, compiling
// and caching it on first use. A compile failure is logged and treated as "no
// validation" -- params pass through unchecked.
func (v *Validator) Validate(connectorID, operationID string, rawSchema json.RawMessage, params map[string]any) Result {
	if len(rawSchema) == 0 {
		return Result{Valid: true}
	}

	s := v.compiled(connectorID, operationID, rawSchema)
	if s == nil {
		return Result{Valid: true}
	}

	if err := s.Validate(toInterfaceMap(params)); err != nil {
		var verr *jsonschema.ValidationError
		if basicErr, ok := err.(*jsonschema.ValidationError); ok {
			verr = basicErr
		}
		return Result{Valid: false, Errors: flattenValidationError(verr, err)}
	}
	return Result{Valid: true}
}

func (v *Validator) compiled(connectorID, operationID string, rawSchema json.RawMessage) *jsonschema.Schema {
	key := cacheKey{connector: connectorID, operation: operationID}

	v.mu.RLock()
	s, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return s
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok = v.cache[key]; ok {
		return s
	}

	compiled, err := compile(connectorID, operationID, rawSchema)
	if err != nil {
		slog.Warn("schema compile failed, treating as no validation",
			"connector", connectorID, "operation", operationID, "error", err)
		v.cache[key] = nil
		return nil
	}
	v.cache[key] = compiled
	return compiled
}

func compile(connectorID, operationID string, rawSchema json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	// Unknown format keywords are tolerated -- strict mode stays off.
	c.AssertFormat = false

	url := fmt.Sprintf("mem://%s/%s.json", connectorID, operationID)
	if err := c.AddResource(url, bytes.NewReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

func flattenValidationError(verr *jsonschema.ValidationError, fallback error) []string {
	if verr == nil {
		return []string{fallback.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				out = append(out, e.Message)
			} else {
				out = append(out, loc+": "+e.Message)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func toInterfaceMap(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
