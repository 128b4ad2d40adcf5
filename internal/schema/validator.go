// Package schema validates component arguments against a JSON-Schema
// input_schema document using github.com/santhosh-tekuri/jsonschema/v5.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/mas/internal/kernel"
)

// Validator compiles and caches jsonschema.Schema values keyed by the
// marshaled form of the input_schema document, so repeated calls to the
// same component do not recompile its schema.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// New returns an empty Validator, implementing kernel.Validator.
func New() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

var _ kernel.Validator = (*Validator)(nil)

// Validate checks arguments against schemaDoc. A nil or empty schemaDoc
// is treated as "no constraints" and always succeeds.
func (v *Validator) Validate(schemaDoc map[string]any, arguments map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrSchemaValidation, err)
	}

	// jsonschema validates against decoded-JSON-shaped values
	// (map[string]any / []any / float64 / string / bool / nil); round
	// trip through encoding/json so Go-native int/time values normalize
	// the way the wire format would.
	buf, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("%w: marshal arguments: %v", kernel.ErrSchemaValidation, err)
	}
	var decoded any
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return fmt.Errorf("%w: decode arguments: %v", kernel.ErrSchemaValidation, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", kernel.ErrSchemaValidation, err)
	}
	return nil
}

func (v *Validator) compile(schemaDoc map[string]any) (*jsonschema.Schema, error) {
	buf, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal input_schema: %w", err)
	}
	key := string(buf)

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "input_schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}
