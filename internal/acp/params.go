package acp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamsError reports request params that do not match the method's schema.
type ParamsError struct {
	Method string
	Err    error
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Err)
}

func (e *ParamsError) Unwrap() error { return e.Err }

var schemaCache sync.Map // reflect.Type -> *jsonschema.Resolved

// rawSchemas leaves json.RawMessage fields unconstrained instead of treating
// them as byte arrays.
var rawSchemas = map[reflect.Type]*jsonschema.Schema{
	reflect.TypeFor[json.RawMessage](): {},
}

// DecodeParams validates raw against the schema inferred from T and decodes
// it. Unknown fields are allowed so newer clients can extend messages.
func DecodeParams[T any](method string, raw json.RawMessage) (T, error) {
	var out T
	rs, err := schemaFor[T]()
	if err != nil {
		return out, err
	}

	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return out, &ParamsError{Method: method, Err: err}
	}
	if err := rs.Validate(instance); err != nil {
		return out, &ParamsError{Method: method, Err: err}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ParamsError{Method: method, Err: err}
	}
	return out, nil
}

func schemaFor[T any]() (*jsonschema.Resolved, error) {
	t := reflect.TypeFor[T]()
	if rs, ok := schemaCache.Load(t); ok {
		return rs.(*jsonschema.Resolved), nil
	}

	s, err := jsonschema.For[T](&jsonschema.ForOptions{TypeSchemas: rawSchemas})
	if err != nil {
		return nil, fmt.Errorf("inferring schema for %s: %w", t, err)
	}
	allowExtraFields(s)
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema for %s: %w", t, err)
	}
	schemaCache.Store(t, rs)
	return rs, nil
}

// allowExtraFields drops the closed-object constraint inferred for structs.
func allowExtraFields(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if ap := s.AdditionalProperties; ap != nil && ap.Not != nil {
		s.AdditionalProperties = nil
	} else {
		allowExtraFields(ap)
	}
	for _, p := range s.Properties {
		allowExtraFields(p)
	}
	allowExtraFields(s.Items)
}
