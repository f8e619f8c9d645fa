package json

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// orderedObject is a nested object that remembers its key order.
type orderedObject struct {
	Keys   []string
	Values map[string]any
}

func (o orderedObject) text() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(plain(o.Values[k]))
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

type rawObject struct {
	Keys   []string
	Values map[string]json.RawMessage
}

// decodeRawObject splits an object into its members, keeping key order.
func decodeRawObject(raw json.RawMessage) (rawObject, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return rawObject{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return rawObject{}, fmt.Errorf("json: expected object")
	}
	out := rawObject{Values: map[string]json.RawMessage{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return rawObject{}, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return rawObject{}, err
		}
		if _, dup := out.Values[key]; !dup {
			out.Keys = append(out.Keys, key)
		}
		out.Values[key] = v
	}
	return out, nil
}

// decodeObject decodes one record, converting nested objects into
// orderedObject values.
func decodeObject(raw json.RawMessage) (Record, error) {
	obj, err := decodeRawObject(raw)
	if err != nil {
		return Record{}, fmt.Errorf("json: record: %w", err)
	}
	rec := Record{Keys: obj.Keys, Values: make(map[string]any, len(obj.Keys))}
	for _, k := range obj.Keys {
		v, err := decodeValue(obj.Values[k])
		if err != nil {
			return Record{}, fmt.Errorf("json: field %q: %w", k, err)
		}
		rec.Values[k] = v
	}
	return rec, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		rec, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		return orderedObject(rec), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// plain converts orderedObject values back to maps for marshaling.
func plain(v any) any {
	switch t := v.(type) {
	case orderedObject:
		m := make(map[string]any, len(t.Values))
		for k, x := range t.Values {
			m[k] = plain(x)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	default:
		return v
	}
}
