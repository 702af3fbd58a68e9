package pdl

import (
	"bytes"
	"encoding/json"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// parseJSONOrdered decodes a JSON object, preserving key declaration
// order (encoding/json's Decoder.Token stream does, map[string]any does
// not), producing nested record.Object/record.Array values.
func parseJSONOrdered(raw []byte) (*record.Object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, apperr.MalformedCompound("pdl", "json", "invalid json").Wrap(err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, apperr.MalformedCompound("pdl", "json", "expected json object")
	}
	return decodeObjectBody(dec)
}

func decodeObjectBody(dec *json.Decoder) (*record.Object, error) {
	obj := record.NewObject()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, apperr.MalformedCompound("pdl", "json", "invalid json key").Wrap(err)
		}
		key, _ := keyTok.(string)
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return nil, apperr.MalformedCompound("pdl", "json", "unterminated object").Wrap(err)
	}
	return obj, nil
}

func decodeArrayBody(dec *json.Decoder) ([]record.Value, error) {
	var out []record.Value
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil { // consume closing ']'
		return nil, apperr.MalformedCompound("pdl", "json", "unterminated array").Wrap(err)
	}
	return out, nil
}

func decodeValue(dec *json.Decoder) (record.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return record.Value{}, apperr.MalformedCompound("pdl", "json", "invalid json value").Wrap(err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj, err := decodeObjectBody(dec)
			if err != nil {
				return record.Value{}, err
			}
			return record.ObjectValue(obj), nil
		case '[':
			arr, err := decodeArrayBody(dec)
			if err != nil {
				return record.Value{}, err
			}
			return record.Array(arr), nil
		}
		return record.Value{}, apperr.MalformedCompound("pdl", "json", "unexpected delimiter")
	case string:
		return record.Chars(t), nil
	case float64:
		if t == float64(int64(t)) {
			return record.Digit(int64(t)), nil
		}
		return record.Float(t), nil
	case bool:
		return record.Bool(t), nil
	case nil:
		return record.Ignore, nil
	default:
		return record.Value{}, apperr.MalformedCompound("pdl", "json", "unsupported json token")
	}
}

// parseKV parses "k=v;k2=v2,k3=v3" style text into an ordered Object,
// duplicate keys becoming indexed "key[0]", "key[1]", ... on collision.
// Every occurrence of a repeated key is indexed uniformly, starting at 0
// (including the first one), matching spec.md §3/§4.3's "key[0], key[1],
// ..." convention and pkg/record.IndexedName's own 0-based doc comment —
// a single occurrence keeps its bare name.
func parseKV(raw []byte) *record.Object {
	type kvPair struct {
		key string
		val string
	}
	var pairs []kvPair
	counts := map[string]int{}
	for _, raw := range splitAny(raw, ",;") {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		idx := bytes.IndexByte(raw, '=')
		if idx < 0 {
			idx = bytes.IndexByte(raw, ':')
		}
		if idx < 0 {
			continue
		}
		key := string(bytes.TrimSpace(raw[:idx]))
		val := string(bytes.TrimSpace(raw[idx+1:]))
		pairs = append(pairs, kvPair{key: key, val: val})
		counts[key]++
	}

	obj := record.NewObject()
	seen := map[string]int{}
	for _, p := range pairs {
		if counts[p.key] > 1 {
			n := seen[p.key]
			seen[p.key] = n + 1
			obj.Set(record.IndexedName(p.key, n), record.Chars(p.val))
			continue
		}
		obj.Set(p.key, record.Chars(p.val))
	}
	return obj
}

func splitAny(raw []byte, seps string) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range raw {
		for _, s := range []byte(seps) {
			if b == s {
				out = append(out, raw[start:i])
				start = i + 1
				break
			}
		}
	}
	out = append(out, raw[start:])
	return out
}
