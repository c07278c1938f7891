package settings

import (
	"errors"
	"fmt"
	"math"
)

// ErrConsumption marks a setting that could not be used at the time it was read.
var ErrConsumption = errors.New("setting cannot be consumed")

// ConsumptionError reports a missing or malformed setting value.
type ConsumptionError struct {
	Key   string
	Value any
	Want  string
}

func (e *ConsumptionError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("setting %q: missing, want %s", e.Key, e.Want)
	}
	return fmt.Sprintf("setting %q: %v (%T) is not a valid %s", e.Key, e.Value, e.Value, e.Want)
}

func (e *ConsumptionError) Unwrap() error { return ErrConsumption }

// Int reads key as an integer. Whole floats inside the int range are
// accepted.
func (s *Store) Int(key string) (int, error) {
	v, _ := s.Value(key)
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, &ConsumptionError{Key: key, Value: v, Want: "integer"}
	}
	return int(f), nil
}

// Float reads key as a finite number.
func (s *Store) Float(key string) (float64, error) {
	v, _ := s.Value(key)
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ConsumptionError{Key: key, Value: v, Want: "number"}
	}
	return f, nil
}

// Bool reads key as a boolean.
func (s *Store) Bool(key string) (bool, error) {
	v, _ := s.Value(key)
	b, ok := v.(bool)
	if !ok {
		return false, &ConsumptionError{Key: key, Value: v, Want: "boolean"}
	}
	return b, nil
}

// String reads key as a string.
func (s *Store) String(key string) (string, error) {
	v, _ := s.Value(key)
	str, ok := v.(string)
	if !ok {
		return "", &ConsumptionError{Key: key, Value: v, Want: "string"}
	}
	return str, nil
}

// Reader reads several keys and keeps the first error, so typed parameter
// structs can be decoded without checking after every field.
type Reader struct {
	store *Store
	err   error
}

// NewReader creates a Reader over s.
func NewReader(s *Store) *Reader {
	return &Reader{store: s}
}

// Int reads an integer.
func (r *Reader) Int(key string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.store.Int(key)
	r.err = err
	return v
}

// Float reads a number.
func (r *Reader) Float(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.store.Float(key)
	r.err = err
	return v
}

// Bool reads a boolean.
func (r *Reader) Bool(key string) bool {
	if r.err != nil {
		return false
	}
	v, err := r.store.Bool(key)
	r.err = err
	return v
}

// String reads a string.
func (r *Reader) String(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.store.String(key)
	r.err = err
	return v
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
