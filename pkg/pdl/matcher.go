package pdl

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
	"github.com/ssw-labs/flowcore/pkg/scan"
)

// Result is the outcome of matching one compiled rule against one payload.
type Result struct {
	Record     *record.Record
	Incomplete bool // true iff unconsumed bytes remained at end of match
}

var timeLayouts = map[string]string{
	"clf":  "02/Jan/2006:15:04:05 -0700",
	"rfc3339": time.RFC3339,
	"iso8601": "2006-01-02T15:04:05",
	"unix":  "",
}

// Match executes rule against payload, producing a field vector or a
// matcher error. Match is single-threaded per call. bytes and unparsed
// json/obj field values share the (preprocessed) payload's backing array;
// chars values are copied into their own strings.
func Match(rule *Rule, payload []byte) (*Result, error) {
	pp, err := runPreproc(rule.Preproc, payload)
	if err != nil {
		return nil, err
	}
	cur := scan.New(pp)
	var fields []record.Field

	for _, g := range rule.Groups {
		if err := matchGroup(cur, g, &fields, nil); err != nil {
			return nil, err
		}
	}

	rec := record.New(rule.Path)
	rec.Fields = fields
	rec.HasTemp = !rule.NoTemporaries
	rec.ApplyTemporaryFilter()

	res := &Result{Record: rec}
	if !cur.Eof() {
		switch rule.IncompletePolicy {
		case IncompleteError:
			return nil, apperr.RuleIncomplete("pdl", "match", "unconsumed bytes remain").
				WithMetadata("position", cur.Pos()).WithMetadata("rule_id", rule.Path)
		default:
			res.Incomplete = true
		}
	}
	return res, nil
}

// matchGroup dispatches on the group's combinator meta. inherited is the
// separator to apply to fields that declare none of their own, per the
// field-level > group-level > inherited priority.
func matchGroup(cur *scan.Cursor, g GroupNode, fields *[]record.Field, inherited *scan.Separator) error {
	sep := g.Sep
	if sep == nil {
		sep = inherited
	}
	switch g.Meta {
	case MetaSeq, "":
		return matchSeq(cur, g.Fields, fields, sep)
	case MetaOpt:
		save := cur.Clone()
		var local []record.Field
		if err := matchSeq(cur, g.Fields, &local, sep); err != nil {
			*cur = *save
			return nil
		}
		*fields = append(*fields, local...)
		return nil
	case MetaAlt:
		for _, f := range g.Fields {
			save := cur.Clone()
			var local []record.Field
			if err := matchField(cur, f, &local, sep); err == nil {
				*fields = append(*fields, local...)
				return nil
			}
			*cur = *save
		}
		return apperr.NotMatched("pdl", "alt", "no alternative matched")
	case MetaSomeOf:
		produced := 0
		for {
			progressed := false
			for _, f := range g.Fields {
				save := cur.Clone()
				var local []record.Field
				if err := matchField(cur, f, &local, sep); err == nil && len(local) > 0 {
					*fields = append(*fields, local...)
					produced += len(local)
					progressed = true
				} else {
					*cur = *save
				}
			}
			if !progressed {
				break
			}
		}
		if produced == 0 {
			return apperr.NotMatched("pdl", "some_of", "no child matched")
		}
		return nil
	case MetaNot:
		clone := cur.Clone()
		var discard []record.Field
		err := matchSeq(clone, g.Fields, &discard, sep)
		if err == nil {
			return apperr.NotMatched("pdl", "not", "inner group matched, not(...) fails")
		}
		name := ""
		if len(g.Fields) > 0 {
			name = g.Fields[0].Name
		}
		*fields = append(*fields, record.NewField(name, "_", record.Ignore))
		return nil
	default:
		return apperr.Invariant("pdl", "group", "unknown group meta "+string(g.Meta))
	}
}

func matchSeq(cur *scan.Cursor, list []FieldNode, fields *[]record.Field, sep *scan.Separator) error {
	for _, f := range list {
		if err := matchField(cur, f, fields, sep); err != nil {
			return err
		}
	}
	return nil
}

// matchField produces zero or more record fields (more than one for
// array/kv/json sub-field expansion) and applies the field's pipe chain.
func matchField(cur *scan.Cursor, f FieldNode, fields *[]record.Field, inherited *scan.Separator) error {
	sep := f.Sep
	if sep == nil {
		sep = inherited
	}

	name := f.Name
	if name == "" {
		name = f.Type.Name
	}

	raw, v, err := scanTypedValue(cur, f, sep)
	if err != nil {
		return err
	}

	fieldEntry := record.NewField(name, f.Type.String(), v)
	*fields = append(*fields, fieldEntry)

	if len(f.Pipes) > 0 {
		ctx := &pipeCtx{fields: fields, active: &(*fields)[len(*fields)-1]}
		if err := runFieldPipes(ctx, f.Pipes); err != nil {
			return err
		}
	}

	for _, ann := range f.Annotations {
		if ann.CopyRaw != "" {
			*fields = append(*fields, record.NewField(ann.CopyRaw, "chars", record.Chars(string(raw))))
		}
	}
	return nil
}

// scanTypedValue isolates the raw byte span for f (bounded by sep when
// present) and parses it according to f.Type, returning both the raw
// bytes (for copy_raw) and the typed Value.
func scanTypedValue(cur *scan.Cursor, f FieldNode, sep *scan.Separator) ([]byte, record.Value, error) {
	switch f.Type.Name {
	case "_":
		if f.FieldCnt >= 0 {
			raw, err := cur.TakeN(f.FieldCnt)
			if err != nil {
				return nil, record.Value{}, err
			}
			return raw, record.Ignore, nil
		}
		raw, _, err := boundedRaw(cur, f, sep)
		if err != nil {
			return nil, record.Value{}, err
		}
		return raw, record.Ignore, nil

	case "json", "obj":
		raw, err := cur.TakeJSONValue()
		if err != nil {
			return nil, record.Value{}, apperr.MalformedCompound("pdl", "json", "malformed json value").Wrap(err)
		}
		if sep != nil {
			takeUntilSepDiscardable(cur, sep)
		}
		if len(f.SubFields) > 0 {
			obj, err := parseJSONOrdered(raw)
			if err != nil {
				return raw, record.Value{}, err
			}
			return raw, record.ObjectValue(obj), nil
		}
		return raw, record.Bytes(raw), nil

	case "kv", "kvarr":
		raw, preserved, err := boundedRaw(cur, f, sep)
		if err != nil {
			return nil, record.Value{}, err
		}
		obj := parseKV(raw)
		_ = preserved
		return raw, record.ObjectValue(obj), nil

	case "array":
		var elems []record.Value
		elemType := DataType{Name: "chars"}
		if f.Type.ArrayOf != nil {
			elemType = *f.Type.ArrayOf
		}
		for {
			save := cur.Clone()
			_, v, err := scanTypedValue(cur, FieldNode{Type: elemType, Sep: sep}, sep)
			if err != nil {
				*cur = *save
				break
			}
			elems = append(elems, v)
		}
		return nil, record.Array(elems), nil

	case "digit":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		n, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			return raw, record.Value{}, apperr.NotMatched("pdl", "digit", "not an integer").WithMetadata("value", string(raw))
		}
		return raw, record.Digit(n), nil

	case "float":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		n, perr := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if perr != nil {
			return raw, record.Value{}, apperr.NotMatched("pdl", "float", "not a float")
		}
		return raw, record.Float(n), nil

	case "bool":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		b, perr := strconv.ParseBool(strings.TrimSpace(string(raw)))
		if perr != nil {
			return raw, record.Value{}, apperr.NotMatched("pdl", "bool", "not a boolean")
		}
		return raw, record.Bool(b), nil

	case "ip":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		ip := net.ParseIP(strings.TrimSpace(string(raw)))
		if ip == nil {
			return raw, record.Value{}, apperr.NotMatched("pdl", "ip", "not an ip address")
		}
		return raw, record.IPAddr(ip), nil

	case "ipnet":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		_, ipnet, perr := net.ParseCIDR(strings.TrimSpace(string(raw)))
		if perr != nil {
			return raw, record.Value{}, apperr.NotMatched("pdl", "ipnet", "not a cidr")
		}
		return raw, record.IPNet(ipnet), nil

	case "bytes":
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		return raw, record.Bytes(raw), nil

	default:
		if f.Type.Namespace == "time" {
			raw, preserved, err := boundedRaw(cur, f, sep)
			_ = preserved
			if err != nil {
				return nil, record.Value{}, err
			}
			return raw, parseTimeValue(f.Type.Name, strings.TrimSpace(string(raw)))
		}
		// "chars" and any other namespaced/unknown type scan as literal
		// text bounded by the separator (http/request, proto/text, ...).
		raw, preserved, err := boundedRaw(cur, f, sep)
		_ = preserved
		if err != nil {
			return nil, record.Value{}, err
		}
		return raw, record.Chars(string(raw)), nil
	}
}

// boundedRaw isolates a field's byte span: exact-length via FieldCnt when
// set (chars/_ only, enforced at compile time); else a declared scope/quote
// format, which may itself span separator bytes (e.g. the space inside a
// bracketed timestamp); else up to the effective separator; else the
// remainder of the input. A format-bounded field still consumes a trailing
// separator when present, but does not fail the match if one is absent
// (mirroring the self-describing json/obj case).
func boundedRaw(cur *scan.Cursor, f FieldNode, sep *scan.Separator) ([]byte, []byte, error) {
	if f.FieldCnt >= 0 {
		raw, err := cur.TakeN(f.FieldCnt)
		return raw, nil, err
	}
	if f.Format != nil && f.Format.HasQuote {
		raw, err := cur.TakeQuoted(f.Format.Quote, f.Format.Quote)
		if err != nil {
			return nil, nil, err
		}
		takeUntilSepDiscardable(cur, sep)
		return raw, nil, nil
	}
	if f.Format != nil && f.Format.HasScope {
		raw, err := cur.TakeScoped(f.Format.ScopeL, f.Format.ScopeR)
		if err != nil {
			return nil, nil, err
		}
		takeUntilSepDiscardable(cur, sep)
		return raw, nil, nil
	}
	if sep != nil {
		return cur.TakeUntilSep(*sep)
	}
	raw := cur.Remaining()
	cur.Seek(cur.Pos() + len(raw))
	return raw, nil, nil
}

// takeUntilSepDiscardable consumes sep if present at the cursor without
// failing the match when it is absent (used after self-describing
// compounds like json, whose end is already unambiguous).
func takeUntilSepDiscardable(cur *scan.Cursor, sep *scan.Separator) {
	if sep == nil {
		return
	}
	save := cur.Clone()
	if skipped, _, err := cur.TakeUntilSep(*sep); err != nil || len(skipped) > 0 {
		*cur = *save
	}
}

func parseTimeValue(layout, raw string) record.Value {
	if layout == "unix" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return record.Chars(raw)
		}
		return record.TimeStamp(n * 1_000_000)
	}
	lay, ok := timeLayouts[layout]
	if !ok {
		lay = time.RFC3339
	}
	t, err := time.Parse(lay, raw)
	if err != nil {
		return record.Chars(raw)
	}
	return record.TimeStamp(t.UnixMicro())
}
