package sinkrt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// Format names one of the wire encodings a sink may be configured with.
// Encoding is a pure function of the record: it never touches I/O or sink
// state, keeping encode-the-bytes separate from send-the-bytes.
type Format string

const (
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatKV        Format = "kv"
	FormatShow      Format = "show"
	FormatRaw       Format = "raw"
	FormatProtoText Format = "proto-text"
)

// Encode renders recs in the given wire format, one encoded blob per
// record in order, for the caller to frame as it sees fit (length-prefixed
// on the wire, newline-joined on disk, etc).
func Encode(format Format, recs []*record.Record) ([][]byte, error) {
	out := make([][]byte, len(recs))
	for i, r := range recs {
		b, err := encodeOne(format, r)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func encodeOne(format Format, r *record.Record) ([]byte, error) {
	switch format {
	case FormatJSON:
		return encodeJSON(r)
	case FormatCSV:
		return encodeCSV(r), nil
	case FormatKV:
		return encodeKV(r), nil
	case FormatShow:
		return encodeShow(r), nil
	case FormatRaw:
		return encodeRaw(r), nil
	case FormatProtoText:
		return encodeProtoText(r), nil
	default:
		return nil, apperr.Compile("sinkrt", "encode", "unknown wire format "+string(format))
	}
}

func valueToJSONPlain(v record.Value) interface{} {
	switch v.Kind() {
	case record.KindIgnore:
		return nil
	case record.KindBool:
		b, _ := v.Bool()
		return b
	case record.KindDigit:
		n, _ := v.Digit()
		return n
	case record.KindFloat:
		f, _ := v.Float()
		return f
	case record.KindArray:
		arr, _ := v.Array()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = valueToJSONPlain(e)
		}
		return out
	case record.KindObject:
		obj, _ := v.Object()
		out := map[string]interface{}{}
		for _, k := range obj.Keys() {
			val, _ := obj.Get(k)
			out[k] = valueToJSONPlain(val)
		}
		return out
	default:
		return v.String()
	}
}

func encodeJSON(r *record.Record) ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+1)
	m["rule_id"] = r.RuleID
	for _, f := range r.Fields {
		if f.IsIgnore() {
			continue
		}
		m[f.Name] = valueToJSONPlain(f.Value)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.SinkIO("sinkrt", "encode_json", "marshal failed").Wrap(err)
	}
	return b, nil
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func encodeCSV(r *record.Record) []byte {
	var b bytes.Buffer
	for i, f := range r.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(csvEscape(f.Value.String()))
	}
	return b.Bytes()
}

func encodeKV(r *record.Record) []byte {
	var b bytes.Buffer
	for _, f := range r.Fields {
		if f.IsIgnore() {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", f.Name, f.Value.String())
	}
	return b.Bytes()
}

func encodeShow(r *record.Record) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s]", r.RuleID)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, " %s=%s(%s)", f.Name, f.Value.String(), f.DataType)
	}
	return b.Bytes()
}

func encodeRaw(r *record.Record) []byte {
	for _, f := range r.Fields {
		if b, ok := f.Value.Bytes(); ok {
			return b
		}
	}
	var b bytes.Buffer
	for _, f := range r.Fields {
		b.WriteString(f.Value.String())
	}
	return b.Bytes()
}

func encodeProtoText(r *record.Record) []byte {
	var b bytes.Buffer
	for _, f := range r.Fields {
		if f.IsIgnore() {
			continue
		}
		fmt.Fprintf(&b, "%s: %q\n", f.Name, f.Value.String())
	}
	return b.Bytes()
}
