package pdl

import (
	"encoding/base64"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/record"
)

// PipeSig declares a pipe function's expected argument count; -1 means
// variadic (checked only for presence, not exact count).
type PipeSig struct {
	Arity int
}

// FieldPipeCatalogue is the closed PDL pipe-function table. The matcher
// dispatches on Name directly (a branch, not a map lookup, on the hot
// path — see runOnePipe below); this table exists for compile-time validation
// and for the plugin registration escape hatch.
var FieldPipeCatalogue = map[string]PipeSig{
	"take": {1}, "last": {0},
	"f_has": {1}, "f_chars_has": {2}, "f_chars_not_has": {2},
	"f_chars_in": {-1}, "f_digit_has": {2}, "f_digit_in": {-1}, "f_ip_in": {2},
	"has": {0}, "chars_has": {1}, "chars_not_has": {1}, "chars_in": {-1},
	"starts_with": {1}, "regex_match": {1}, "digit_has": {1}, "digit_in": {-1},
	"digit_range": {2}, "ip_in": {1},
	"json_unescape": {0}, "base64_decode": {0}, "chars_replace": {2},
}

// "not" is deliberately absent from this table: it is the grammar-level
// wrapper the parser consumes in parseNotOrCall (pc.Neg), never a
// dispatchable PipeCall.Name. Listing it here with an arity would let a
// malformed "not(...)" that slipped past the parser as a literal call
// pass compile-time arity validation and only fail at runtime.

// RegisterPlugin adds a pipe function name to the catalogue at startup, the
// one sanctioned way to extend an otherwise closed, tag-dispatched table.
func RegisterPlugin(name string, sig PipeSig) {
	FieldPipeCatalogue[name] = sig
}

var regexCache sync.Map // pattern string -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// pipeCtx is the state a field-level pipe chain runs against: the record
// built so far (for f_* lookups and take/last retargeting) and the
// currently active field.
type pipeCtx struct {
	fields *[]record.Field
	active *record.Field
}

// runFieldPipes executes one field's pipe chain in order. A hard error
// aborts the whole match; a pipe converging the active field to Ignore is
// not itself an error (PipeReject, absorbed by the enclosing group).
func runFieldPipes(ctx *pipeCtx, pipes []PipeCall) error {
	for _, pc := range pipes {
		ok, err := runOnePipe(ctx, pc)
		if err != nil {
			return err
		}
		if pc.Neg {
			// not(inner): invert success/failure; on success (inner failed,
			// so the wrapper succeeds) the active field becomes Ignore.
			if !ok {
				ctx.active.Value = record.Ignore
			} else {
				return apperr.NotMatched("pdl", "pipe", "not("+pc.Name+") failed: inner pipe matched")
			}
		} else if !ok {
			return apperr.NotMatched("pdl", "pipe", pc.Name+" did not match")
		}
	}
	return nil
}

// runOnePipe executes a single pipe stage, returning ok=false for a
// read-only check that failed (absorbable) and err for a hard failure
// (type mismatch on a transform, etc).
func runOnePipe(ctx *pipeCtx, pc PipeCall) (bool, error) {
	switch pc.Name {
	case "take":
		name := arg(pc, 0)
		for i := range *ctx.fields {
			if (*ctx.fields)[i].Name == name {
				ctx.active = &(*ctx.fields)[i]
				return true, nil
			}
		}
		return false, nil
	case "last":
		if len(*ctx.fields) == 0 {
			return false, nil
		}
		ctx.active = &(*ctx.fields)[len(*ctx.fields)-1]
		return true, nil

	case "f_has":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		return ok && !f.Value.IsIgnore(), nil
	case "f_chars_has":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return false, nil
		}
		s, sok := f.Value.Chars()
		return sok && s == arg(pc, 1), nil
	case "f_chars_not_has":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return true, nil
		}
		s, sok := f.Value.Chars()
		if !sok {
			return true, nil
		}
		return s != arg(pc, 1), nil
	case "f_chars_in":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return false, nil
		}
		s, sok := f.Value.Chars()
		if !sok {
			return false, nil
		}
		for _, v := range pc.Args[1:] {
			if s == v {
				return true, nil
			}
		}
		return false, nil
	case "f_digit_has":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return false, nil
		}
		n, nok := f.Value.Digit()
		want, _ := strconv.ParseInt(arg(pc, 1), 10, 64)
		return nok && n == want, nil
	case "f_digit_in":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return false, nil
		}
		n, nok := f.Value.Digit()
		if !nok {
			return false, nil
		}
		for _, v := range pc.Args[1:] {
			want, _ := strconv.ParseInt(v, 10, 64)
			if n == want {
				return true, nil
			}
		}
		return false, nil
	case "f_ip_in":
		f, ok := findField(*ctx.fields, arg(pc, 0))
		if !ok {
			return false, nil
		}
		ip, iok := f.Value.IPAddr()
		if !iok {
			return false, nil
		}
		_, cidr, err := net.ParseCIDR(arg(pc, 1))
		if err != nil {
			return false, nil
		}
		return cidr.Contains(ip), nil

	case "has":
		return !ctx.active.Value.IsIgnore(), nil
	case "chars_has":
		s, ok := ctx.active.Value.Chars()
		return ok && s == arg(pc, 0), nil
	case "chars_not_has":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return true, nil
		}
		return s != arg(pc, 0), nil
	case "chars_in":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return false, nil
		}
		for _, v := range pc.Args {
			if s == v {
				return true, nil
			}
		}
		return false, nil
	case "starts_with":
		s, ok := ctx.active.Value.Chars()
		return ok && strings.HasPrefix(s, arg(pc, 0)), nil
	case "regex_match":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return false, nil
		}
		re, err := compileRegex(arg(pc, 0))
		if err != nil {
			return false, apperr.Compile("pdl", "regex_match", "invalid pattern").Wrap(err)
		}
		return re.MatchString(s), nil
	case "digit_has":
		n, ok := ctx.active.Value.Digit()
		want, _ := strconv.ParseInt(arg(pc, 0), 10, 64)
		return ok && n == want, nil
	case "digit_in":
		n, ok := ctx.active.Value.Digit()
		if !ok {
			return false, nil
		}
		for _, v := range pc.Args {
			want, _ := strconv.ParseInt(v, 10, 64)
			if n == want {
				return true, nil
			}
		}
		return false, nil
	case "digit_range":
		n, ok := ctx.active.Value.Digit()
		if !ok {
			return false, nil
		}
		lo, _ := strconv.ParseInt(arg(pc, 0), 10, 64)
		hi, _ := strconv.ParseInt(arg(pc, 1), 10, 64)
		return n >= lo && n <= hi, nil
	case "ip_in":
		ip, ok := ctx.active.Value.IPAddr()
		if !ok {
			return false, nil
		}
		_, cidr, err := net.ParseCIDR(arg(pc, 0))
		if err != nil {
			return false, nil
		}
		return cidr.Contains(ip), nil

	case "json_unescape":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return false, apperr.MalformedCompound("pdl", "json_unescape", "active field is not chars")
		}
		unq, err := unescapeJSONString(s)
		if err != nil {
			return false, apperr.MalformedCompound("pdl", "json_unescape", "invalid escape sequence").Wrap(err)
		}
		ctx.active.Value = record.Chars(unq)
		return true, nil
	case "base64_decode":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return false, apperr.MalformedCompound("pdl", "base64_decode", "active field is not chars")
		}
		dec, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return false, apperr.MalformedCompound("pdl", "base64_decode", "invalid base64").Wrap(err)
		}
		ctx.active.Value = record.Bytes(dec)
		return true, nil
	case "chars_replace":
		s, ok := ctx.active.Value.Chars()
		if !ok {
			return false, apperr.MalformedCompound("pdl", "chars_replace", "active field is not chars")
		}
		ctx.active.Value = record.Chars(strings.ReplaceAll(s, arg(pc, 0), arg(pc, 1)))
		return true, nil

	default:
		return false, apperr.Invariant("pdl", "pipe", "unregistered pipe function "+pc.Name)
	}
}

func arg(pc PipeCall, i int) string {
	if i < len(pc.Args) {
		return pc.Args[i]
	}
	return ""
}

func findField(fields []record.Field, name string) (record.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return record.Field{}, false
}

// unescapeJSONString unescapes JSON backslash sequences in s without
// requiring the caller to wrap/unwrap JSON quoting.
func unescapeJSONString(s string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", apperr.MalformedCompound("pdl", "json_unescape", "dangling escape")
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		case 'u':
			if i+6 > len(s) {
				return "", apperr.MalformedCompound("pdl", "json_unescape", "short unicode escape")
			}
			n, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
			if err != nil {
				return "", err
			}
			b.WriteRune(rune(n))
			i += 4
		default:
			b.WriteByte(s[i+1])
		}
		i += 2
	}
	return b.String(), nil
}
