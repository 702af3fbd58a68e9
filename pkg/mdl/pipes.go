package mdl

import (
	"encoding/base64"
	"encoding/json"
	"html"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// runPipes threads seed through a "| name(args)" chain, each stage
// receiving the previous stage's output plus its own literal args.
func (e *Evaluator) runPipes(seed record.Value, pipes []MDLPipeCall, sc *scope) (record.Value, error) {
	cur := seed
	for _, p := range pipes {
		resolvedArgs := make([]string, len(p.Args))
		for i, a := range p.Args {
			resolvedArgs[i] = strings.Trim(a, "'\"")
		}
		v, err := runMDLPipe(p.Name, cur, resolvedArgs)
		if err != nil {
			return record.Value{}, err
		}
		cur = v
	}
	return cur, nil
}

func runMDLPipe(name string, v record.Value, args []string) (record.Value, error) {
	str, _ := v.AsChars()
	switch name {
	case "base64_encode":
		return record.Chars(base64.StdEncoding.EncodeToString([]byte(str))), nil
	case "base64_decode":
		b, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "base64_decode", "invalid base64").Wrap(err)
		}
		return record.Chars(string(b)), nil
	case "html_escape":
		return record.Chars(html.EscapeString(str)), nil
	case "html_unescape":
		return record.Chars(html.UnescapeString(str)), nil
	case "json_escape":
		b, err := json.Marshal(str)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "json_escape", "marshal failed").Wrap(err)
		}
		return record.Chars(strings.Trim(string(b), `"`)), nil
	case "json_unescape":
		var out string
		if err := json.Unmarshal([]byte(`"`+str+`"`), &out); err != nil {
			return record.Value{}, apperr.Transform("mdl", "json_unescape", "invalid json string").Wrap(err)
		}
		return record.Chars(out), nil
	case "str_escape":
		return record.Chars(strconv.Quote(str)), nil
	case "str_unescape":
		out, err := strconv.Unquote(`"` + strings.ReplaceAll(str, `"`, `\"`) + `"`)
		if err != nil {
			return record.Chars(str), nil
		}
		return record.Chars(out), nil
	case "to_str":
		return record.Chars(str), nil
	case "to_json":
		b, err := json.Marshal(valueToPlain(v))
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "to_json", "marshal failed").Wrap(err)
		}
		return record.Chars(string(b)), nil
	case "skip_empty":
		if str == "" {
			return record.Ignore, nil
		}
		return v, nil
	case "starts_with":
		if len(args) > 0 {
			return record.Bool(strings.HasPrefix(str, args[0])), nil
		}
		return record.Bool(false), nil
	case "nth":
		arr, ok := v.Array()
		if !ok || len(args) == 0 {
			return record.Ignore, nil
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil || idx < 0 || idx >= len(arr) {
			return record.Ignore, nil
		}
		return arr[idx], nil
	case "get":
		obj, ok := v.Object()
		if !ok || len(args) == 0 {
			return record.Ignore, nil
		}
		if val, found := obj.Get(args[0]); found {
			return val, nil
		}
		return record.Ignore, nil
	case "path":
		cur := v
		for _, seg := range args {
			obj, ok := cur.Object()
			if !ok {
				return record.Ignore, nil
			}
			val, found := obj.Get(seg)
			if !found {
				return record.Ignore, nil
			}
			cur = val
		}
		return cur, nil
	case "url":
		u, err := url.Parse(str)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "url", "invalid url").Wrap(err)
		}
		obj := record.NewObject()
		obj.Set("scheme", record.Chars(u.Scheme))
		obj.Set("host", record.Chars(u.Host))
		obj.Set("path", record.Chars(u.Path))
		obj.Set("query", record.Chars(u.RawQuery))
		return record.ObjectValue(obj), nil
	case "ip4_to_int":
		ip := net.ParseIP(str).To4()
		if ip == nil {
			return record.Value{}, apperr.Transform("mdl", "ip4_to_int", "not an ipv4 address")
		}
		n := int64(ip[0])<<24 | int64(ip[1])<<16 | int64(ip[2])<<8 | int64(ip[3])
		return record.Digit(n), nil
	case "extract_main_word":
		fields := strings.Fields(str)
		if len(fields) == 0 {
			return record.Chars(""), nil
		}
		return record.Chars(fields[0]), nil
	case "extract_subject_object":
		parts := strings.SplitN(str, " ", 2)
		obj := record.NewObject()
		obj.Set("subject", record.Chars(parts[0]))
		if len(parts) > 1 {
			obj.Set("object", record.Chars(parts[1]))
		} else {
			obj.Set("object", record.Chars(""))
		}
		return record.ObjectValue(obj), nil
	case "map_to":
		for i := 0; i+1 < len(args); i += 2 {
			if str == args[i] {
				return record.Chars(args[i+1]), nil
			}
		}
		return v, nil
	default:
		return record.Value{}, apperr.Compile("mdl", "pipe", "unknown pipe function "+name)
	}
}

// runBuiltin dispatches "Namespace::Name(args)" calls, currently only the
// Time:: conversion family.
func runBuiltin(namespace, name string, args []record.Value) (record.Value, error) {
	if namespace != "Time" {
		return record.Value{}, apperr.Compile("mdl", "builtin", "unknown namespace "+namespace)
	}
	if len(args) == 0 {
		return record.Value{}, apperr.Transform("mdl", "Time::"+name, "missing argument")
	}
	str, _ := args[0].AsChars()

	switch name {
	case "to_ts":
		t, err := parseFlexTime(str)
		if err != nil {
			return record.Value{}, err
		}
		return record.Digit(t.Unix()), nil
	case "to_ts_ms":
		t, err := parseFlexTime(str)
		if err != nil {
			return record.Value{}, err
		}
		return record.Digit(t.UnixMilli()), nil
	case "to_ts_us":
		t, err := parseFlexTime(str)
		if err != nil {
			return record.Value{}, err
		}
		return record.Digit(t.UnixMicro()), nil
	case "to_ts_zone":
		if len(args) < 2 {
			return record.Value{}, apperr.Transform("mdl", "Time::to_ts_zone", "missing zone argument")
		}
		zone, _ := args[1].AsChars()
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return record.Value{}, apperr.Transform("mdl", "Time::to_ts_zone", "unknown zone "+zone).Wrap(err)
		}
		t, err := parseFlexTime(str)
		if err != nil {
			return record.Value{}, err
		}
		return record.Digit(t.In(loc).Unix()), nil
	default:
		return record.Value{}, apperr.Compile("mdl", "builtin", "unknown Time:: function "+name)
	}
}

var flexLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

func parseFlexTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range flexLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Transform("mdl", "Time", "unparseable time value "+s)
}

// valueToPlain converts a record.Value into a plain Go value suitable for
// encoding/json, used only by the to_json pipe.
func valueToPlain(v record.Value) interface{} {
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
	case record.KindChars:
		s, _ := v.Chars()
		return s
	case record.KindBytes:
		b, _ := v.Bytes()
		return string(b)
	case record.KindArray:
		arr, _ := v.Array()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = valueToPlain(e)
		}
		return out
	case record.KindObject:
		obj, _ := v.Object()
		out := map[string]interface{}{}
		for _, k := range obj.Keys() {
			val, _ := obj.Get(k)
			out[k] = valueToPlain(val)
		}
		return out
	default:
		return v.String()
	}
}
