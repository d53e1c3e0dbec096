package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Field is one named value of a submission.
type Field struct {
	Name  string
	Value string
}

// Fields is a submission's field set in the order the client sent it. It
// serializes as a JSON object whose keys keep that order.
type Fields []Field

// Add appends name=value. A repeated name is merged into the existing entry,
// joining the values with ", " the way multi-select inputs arrive.
//
// Add scans fs for the name. Request parsers use FieldsBuilder instead.
func (fs *Fields) Add(name, value string) {
	for i := range *fs {
		if (*fs)[i].Name == name {
			if (*fs)[i].Value == "" {
				(*fs)[i].Value = value
			} else if value != "" {
				(*fs)[i].Value += ", " + value
			}
			return
		}
	}
	*fs = append(*fs, Field{Name: name, Value: value})
}

// FieldsBuilder collects fields with the same merge rules as Fields.Add in
// constant time per call: names are indexed and repeated values are joined
// once, in Fields.
type FieldsBuilder struct {
	names  []string
	values [][]string
	index  map[string]int
}

// Add records name=value. Empty values never displace or extend a non-empty
// one.
func (b *FieldsBuilder) Add(name, value string) {
	i, ok := b.index[name]
	if !ok {
		if b.index == nil {
			b.index = make(map[string]int)
		}
		i = len(b.names)
		b.index[name] = i
		b.names = append(b.names, name)
		b.values = append(b.values, nil)
	}
	if value != "" {
		b.values[i] = append(b.values[i], value)
	}
}

// Fields returns the collected fields in first-seen order.
func (b *FieldsBuilder) Fields() Fields {
	out := make(Fields, len(b.names))
	for i, name := range b.names {
		out[i] = Field{Name: name, Value: strings.Join(b.values[i], ", ")}
	}
	return out
}

// Get returns the value for name, or "" when absent.
func (fs Fields) Get(name string) string {
	v, _ := fs.Lookup(name)
	return v
}

// Lookup returns the value for name and whether it was present.
func (fs Fields) Lookup(name string) (string, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the field names in order.
func (fs Fields) Keys() []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

// Without returns a copy of fs minus every field named in exclude.
func (fs Fields) Without(exclude map[string]struct{}) Fields {
	out := make(Fields, 0, len(fs))
	for _, f := range fs {
		if _, skip := exclude[f.Name]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Blank reports whether every value is empty after trimming whitespace.
func (fs Fields) Blank() bool {
	for _, f := range fs {
		if strings.TrimSpace(f.Value) != "" {
			return false
		}
	}
	return true
}

// MarshalJSON writes fs as an object, preserving field order.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object into fs, keeping key order. Non-string
// values are flattened: arrays are joined with ", ", null becomes "" and
// numbers, booleans and nested objects keep their JSON text.
func (fs *Fields) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("fields: expected JSON object")
	}
	var out FieldsBuilder
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return errors.New("fields: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := flatten(raw)
		if err != nil {
			return fmt.Errorf("fields: %s: %w", name, err)
		}
		out.Add(name, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = out.Fields()
	return nil
}

func flatten(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 'n':
		return "", nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			s, err := flatten(it)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), nil
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return string(raw), nil
	}
}
