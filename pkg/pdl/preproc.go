package pdl

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// PluginFunc is a user-registered preprocessing stage, looked up by key
// for "plg_pipe/<key>" steps.
type PluginFunc func([]byte) ([]byte, error)

var plugins = map[string]PluginFunc{}

// RegisterPluginPreproc registers a named preprocessing plugin.
func RegisterPluginPreproc(key string, fn PluginFunc) { plugins[key] = fn }

// runPreproc applies a rule's preprocessing pipeline left to right. A
// stage that fails aborts the whole match.
func runPreproc(steps []PreprocStep, payload []byte) ([]byte, error) {
	for _, step := range steps {
		var err error
		switch {
		case step.Namespace == "decode" && step.Name == "base64":
			payload, err = decodeBase64Stage(payload)
		case step.Namespace == "decode" && step.Name == "hex":
			payload, err = decodeHexStage(payload)
		case step.Namespace == "unquote" && step.Name == "unescape":
			payload, err = unescapeStage(payload)
		case step.Namespace == "strip" && step.Name == "bom":
			payload = bytes.TrimPrefix(payload, bom)
		case step.Namespace == "plg_pipe":
			fn, ok := plugins[step.PluginKey]
			if !ok {
				err = apperr.Invariant("pdl", "preproc", "unregistered plugin "+step.PluginKey)
			} else {
				payload, err = fn(payload)
			}
		default:
			err = apperr.Invariant("pdl", "preproc", "unknown preprocessing step "+step.Namespace+"/"+step.Name)
		}
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func decodeBase64Stage(in []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(in)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(in))
	if err != nil {
		return nil, apperr.MalformedCompound("pdl", "decode/base64", "invalid base64 input").Wrap(err)
	}
	return out[:n], nil
}

func decodeHexStage(in []byte) ([]byte, error) {
	out := make([]byte, hex.DecodedLen(len(in)))
	n, err := hex.Decode(out, in)
	if err != nil {
		return nil, apperr.MalformedCompound("pdl", "decode/hex", "invalid hex input").Wrap(err)
	}
	return out[:n], nil
}

func unescapeStage(in []byte) ([]byte, error) {
	out, err := unescapeJSONString(string(in))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}
