package truncation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindScalar Kind = iota
	KindObject
	KindArray
)

// Value is an order-preserving JSON document node.
//
// Object members keep their source order and scalars keep their source
// literal, so a value re-serializes without reordering keys or reformatting
// numbers.
type Value struct {
	kind    Kind
	raw     string
	members []Member
	elems   []Value
}

// Member is one key/value pair of an object. Key holds the quoted JSON literal.
type Member struct {
	Key   string
	Value Value
}

// ParseValue parses a JSON document. ok is false when text is not valid JSON.
func ParseValue(text string) (Value, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return Value{}, false
	}
	return fromResult(gjson.Parse(trimmed)), true
}

func fromResult(r gjson.Result) Value {
	switch {
	case r.IsObject():
		v := Value{kind: KindObject, members: []Member{}}
		r.ForEach(func(key, value gjson.Result) bool {
			v.members = append(v.members, Member{Key: key.Raw, Value: fromResult(value)})
			return true
		})
		return v
	case r.IsArray():
		v := Value{kind: KindArray, elems: []Value{}}
		r.ForEach(func(_, value gjson.Result) bool {
			v.elems = append(v.elems, fromResult(value))
			return true
		})
		return v
	default:
		return Value{kind: KindScalar, raw: r.Raw}
	}
}

// String builds a string scalar.
func String(s string) Value {
	return Value{kind: KindScalar, raw: quote(s)}
}

// Int builds an integer scalar.
func Int(n int) Value {
	return Value{kind: KindScalar, raw: strconv.Itoa(n)}
}

// Bool builds a boolean scalar.
func Bool(b bool) Value {
	return Value{kind: KindScalar, raw: strconv.FormatBool(b)}
}

// Array builds an array node.
func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, elems: elems}
}

// Object builds an object node; see Field.
func Object(members ...Member) Value {
	if members == nil {
		members = []Member{}
	}
	return Value{kind: KindObject, members: members}
}

// Field builds an object member from an unquoted key.
func Field(key string, value Value) Member {
	return Member{Key: quote(key), Value: value}
}

// Kind reports the node shape.
func (v Value) Kind() Kind { return v.kind }

// Raw returns the literal of a scalar node.
func (v Value) Raw() string { return v.raw }

// Elems returns the elements of an array node.
func (v Value) Elems() []Value { return v.elems }

// Members returns the members of an object node.
func (v Value) Members() []Member { return v.members }

// Get returns the member value for an unquoted key.
func (v Value) Get(key string) (Value, bool) {
	want := quote(key)
	for _, m := range v.members {
		if m.Key == want {
			return m.Value, true
		}
	}
	return Value{}, false
}

// String renders the value with two-space indentation, one member or element
// per line and ": " between keys and values.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b, 0)
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v Value) write(b *strings.Builder, depth int) {
	switch v.kind {
	case KindObject:
		if len(v.members) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for i, m := range v.members {
			if i > 0 {
				b.WriteString(",\n")
			}
			writeIndent(b, depth+1)
			b.WriteString(m.Key)
			b.WriteString(": ")
			m.Value.write(b, depth+1)
		}
		b.WriteByte('\n')
		writeIndent(b, depth)
		b.WriteByte('}')
	case KindArray:
		if len(v.elems) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteString("[\n")
		for i, e := range v.elems {
			if i > 0 {
				b.WriteString(",\n")
			}
			writeIndent(b, depth+1)
			e.write(b, depth+1)
		}
		b.WriteByte('\n')
		writeIndent(b, depth)
		b.WriteByte(']')
	default:
		if v.raw == "" {
			b.WriteString("null")
			return
		}
		b.WriteString(v.raw)
	}
}

func writeIndent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}

// quote renders s as a JSON string literal without HTML escaping.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
