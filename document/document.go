package document

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Document is an ordered string-keyed mapping, per spec.md §3. Field
// order is preserved for output stability only; Equal on two
// documents ignores it.
type Document struct {
	keys   []string
	values map[string]Value
}

// New returns an empty document.
func New() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set inserts or overwrites a field, preserving first-insertion order.
func (d *Document) Set(key string, v Value) *Document {
	if d.values == nil {
		d.values = make(map[string]Value)
	}
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

// Get returns the field's value and whether it is present.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// GetPath resolves a dotted field path ("a.b.c") through nested
// documents, returning the null Value when any segment is absent.
func (d *Document) GetPath(path string) (Value, bool) {
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		v, ok := cur.Get(seg)
		if !ok {
			return Null(), false
		}
		if i == len(segs)-1 {
			return v, true
		}
		if v.Kind() != KindDocument {
			return Null(), false
		}
		cur = v.Document()
	}
	return Null(), false
}

// Delete removes a field.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order. Callers must not
// mutate the returned slice.
func (d *Document) Keys() []string { return d.keys }

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.keys) }

// Range visits fields in insertion order; stops early if fn returns
// false.
func (d *Document) Range(fn func(key string, v Value) bool) {
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

// Clone makes a shallow copy: nested Array/Document values are shared,
// matching the teacher's late-materialization contract that clones the
// base document without deep-copying nested structures until a
// consumer requests ownership (spec.md §4.2, §4.6).
func (d *Document) Clone() *Document {
	out := &Document{
		keys:   append([]string(nil), d.keys...),
		values: make(map[string]Value, len(d.values)),
	}
	for k, v := range d.values {
		out.values[k] = v
	}
	return out
}

// WithOverlay returns a clone with the given field overrides applied,
// the core operation of late materialization (spec.md §4.6).
func (d *Document) WithOverlay(overlay map[string]Value) *Document {
	out := d.Clone()
	for k, v := range overlay {
		out.Set(k, v)
	}
	return out
}

func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", k, d.values[k].String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON renders the document as a JSON object preserving field
// order textually (Go's encoding of map keys would not).
func (d *Document) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := marshalValueJSON(d.values[k])
		if err != nil {
			return nil, err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

func marshalValueJSON(v Value) ([]byte, error) {
	switch v.Kind() {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool())
	case KindInt:
		return json.Marshal(v.Int())
	case KindFloat:
		return json.Marshal(v.Float())
	case KindString:
		return json.Marshal(v.Str())
	case KindTimestamp:
		return json.Marshal(v.Time())
	case KindArray:
		elems := v.Elements()
		parts := make([]string, len(elems))
		for i, e := range elems {
			b, err := marshalValueJSON(e)
			if err != nil {
				return nil, err
			}
			parts[i] = string(b)
		}
		return []byte("[" + strings.Join(parts, ",") + "]"), nil
	case KindDocument:
		return v.Document().MarshalJSON()
	default:
		return nil, fmt.Errorf("document: unmarshalable kind %v", v.Kind())
	}
}

// UnmarshalJSON builds a Document from a JSON object via a recursive
// token-stream descent, preserving source field order and inferring
// Value kinds (integral numbers decode as KindInt).
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("document: expected JSON object")
	}
	out, err := decodeObjectBody(dec)
	if err != nil {
		return err
	}
	*d = *out
	return nil
}

// decodeObjectBody reads key/value pairs until the matching '}',
// which the caller has not yet consumed.
func decodeObjectBody(dec *json.Decoder) (*Document, error) {
	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("document: expected string key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, err
	}
	return out, nil
}

// decodeArrayBody reads elements until the matching ']', which the
// caller has not yet consumed.
func decodeArrayBody(dec *json.Decoder) ([]Value, error) {
	var vs []Value
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	if _, err := dec.Token(); err != nil { // consume ']'
		return nil, err
	}
	return vs, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			sub, err := decodeObjectBody(dec)
			if err != nil {
				return Value{}, err
			}
			return Doc(sub), nil
		case '[':
			vs, err := decodeArrayBody(dec)
			if err != nil {
				return Value{}, err
			}
			return Array(vs...), nil
		default:
			return Value{}, fmt.Errorf("document: unexpected delimiter %v", t)
		}
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("document: unsupported JSON token %T", tok)
	}
}
