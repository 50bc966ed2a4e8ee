// Package dmval implements the typed, JSON-serializable dynamic attribute
// bag ("extensible value") used throughout the stack to carry free-form
// per-object metadata (inode xattrs, pool properties, token query
// parameters), plus URL and path utilities shared by the catalog and pool
// layers.
package dmval

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Extensible is a typed dynamic bag of values, JSON-serializable, used for
// inode xattrs, pool properties and chunk query parameters. A nil
// Extensible can be read and serialized; Set needs a non-nil one (New).
type Extensible map[string]interface{}

// New returns an empty, non-nil Extensible.
func New() Extensible { return make(Extensible) }

func (e Extensible) Has(key string) bool {
	_, ok := e[key]
	return ok
}

func (e Extensible) Get(key string) (interface{}, bool) {
	v, ok := e[key]
	return v, ok
}

// GetString returns the value for key coerced to a string, or def if
// absent or not coercible.
func (e Extensible) GetString(key, def string) string {
	v, ok := e[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return def
	}
}

// GetInt64 returns the value for key coerced to int64, or def if absent or
// not coercible. Handles the float64 shape produced by json.Unmarshal.
func (e Extensible) GetInt64(key string, def int64) int64 {
	v, ok := e[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// GetBool returns the value for key coerced to bool, or def if absent or
// not coercible.
func (e Extensible) GetBool(key string, def bool) bool {
	v, ok := e[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

func (e Extensible) Set(key string, value interface{}) Extensible {
	e[key] = value
	return e
}

func (e Extensible) Delete(key string) { delete(e, key) }

// Clone returns a shallow copy, safe to hand to a caller that may mutate
// it without affecting the original (used when stat entries are returned
// from the cache).
func (e Extensible) Clone() Extensible {
	out := make(Extensible, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Serialize marshals the bag to JSON text, the wire/storage form persisted
// in the `xattr` columns of the schema in spec §6.
func (e Extensible) Serialize() (string, error) {
	if e == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(e))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Deserialize parses JSON text produced by Serialize; empty input yields
// an empty, non-nil bag.
func Deserialize(s string) (Extensible, error) {
	e := New()
	if s == "" {
		return e, nil
	}
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, err
	}
	return e, nil
}
