package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Attrs is the metadata bag attached to audit events. Values are limited to
// a closed union: string, int64, float64, bool, or string list. Anything
// else fails to decode.
type Attrs map[string]Attr

type attrKind int

const (
	attrString attrKind = iota
	attrInt
	attrFloat
	attrBool
	attrList
)

// Attr is a single bounded-union value in an Attrs bag.
type Attr struct {
	kind attrKind
	str  string
	num  float64
	i    int64
	b    bool
	list []string
}

// String creates a string attribute.
func String(v string) Attr { return Attr{kind: attrString, str: v} }

// Int creates an integer attribute.
func Int(v int64) Attr { return Attr{kind: attrInt, i: v} }

// Float creates a floating-point attribute.
func Float(v float64) Attr { return Attr{kind: attrFloat, num: v} }

// Bool creates a boolean attribute.
func Bool(v bool) Attr { return Attr{kind: attrBool, b: v} }

// List creates a string-list attribute.
func List(v ...string) Attr { return Attr{kind: attrList, list: v} }

// Value returns the underlying value as an interface{}.
func (a Attr) Value() interface{} {
	switch a.kind {
	case attrInt:
		return a.i
	case attrFloat:
		return a.num
	case attrBool:
		return a.b
	case attrList:
		return a.list
	default:
		return a.str
	}
}

// MarshalJSON emits the underlying value directly.
func (a Attr) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value())
}

// UnmarshalJSON accepts only the bounded union of value types.
func (a *Attr) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		*a = String(v)
	case bool:
		*a = Bool(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			*a = Int(i)
			return nil
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("attrs: unsupported number %q", v.String())
		}
		*a = Float(f)
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("attrs: list values must be strings, got %T", item)
			}
			list = append(list, s)
		}
		*a = List(list...)
	default:
		return fmt.Errorf("attrs: unsupported value type %T", raw)
	}
	return nil
}

// Keys returns the attribute names in sorted order.
func (m Attrs) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
