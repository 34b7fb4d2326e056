// Package artifact emits the standalone self-decoding Python document for an
// obfuscation run. The artifact embeds the final payload and metadata trail
// as literals, the decode routine for each technique actually used, and a
// driver that replays the reverse pass before handing the recovered source to
// exec. It carries no reference back to this tool and needs nothing beyond
// the Python standard library.
package artifact

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"obfuslite/internal/codec"
	"obfuslite/internal/digest"
	"obfuslite/internal/pipeline"
)

// SelfTestError reports that the in-process reverse pass did not reproduce
// the pre-obscured source. No artifact is written when this happens; a broken
// artifact is strictly worse than none.
type SelfTestError struct {
	WantDigest string
	GotDigest  string
}

func (e *SelfTestError) Error() string {
	return fmt.Sprintf("self-test: decoded text digest %s does not match source digest %s", e.GotDigest, e.WantDigest)
}

// pyTemplate is the emitted document. Payload and trail are base64-wrapped so
// no metadata content can collide with Python string quoting.
var pyTemplate = template.Must(template.New("artifact").Parse(`#!/usr/bin/env python3
import base64
import json

_PAYLOAD = (
{{.PayloadLines}}
)
_TRAIL = json.loads(base64.b64decode(
{{.TrailLines}}
).decode("utf-8"))

{{range .Decoders}}{{.}}

{{end}}_DECODERS = {
{{range .DecoderIDs}}    "{{.}}": _dec_{{.}},
{{end}}}

def _recover():
    data = base64.b64decode(_PAYLOAD).decode("utf-8")
    for step in reversed(_TRAIL):
        data = _DECODERS[step["technique"]](data, step["meta"])
    return data

exec(compile(_recover(), "<app>", "exec"), {"__name__": "__main__"})
`))

type templateData struct {
	PayloadLines string
	TrailLines   string
	Decoders     []string
	DecoderIDs   []string
}

// Generate runs the self-test and, on success, renders the standalone
// artifact text for the given forward-pass result.
func Generate(reg *codec.Registry, merged string, result *pipeline.Result) (string, error) {
	if err := selfTest(reg, merged, result); err != nil {
		return "", err
	}

	trailJSON, err := json.Marshal(result.Trail)
	if err != nil {
		return "", fmt.Errorf("serializing trail: %w", err)
	}

	decoders, ids, err := usedDecoders(reg, result.Techniques)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	data := templateData{
		PayloadLines: pyLiteral(base64.StdEncoding.EncodeToString([]byte(result.Payload))),
		TrailLines:   pyLiteral(base64.StdEncoding.EncodeToString(trailJSON)),
		Decoders:     decoders,
		DecoderIDs:   ids,
	}
	if err := pyTemplate.Execute(&out, data); err != nil {
		return "", fmt.Errorf("rendering artifact: %w", err)
	}
	return out.String(), nil
}

// selfTest replays the reverse pass in-process and compares digests against
// the pre-obscured merged text.
func selfTest(reg *codec.Registry, merged string, result *pipeline.Result) error {
	decoded, err := pipeline.ReverseResult(reg, result)
	if err != nil {
		return fmt.Errorf("self-test reverse pass: %w", err)
	}

	wantDigest := digest.Blake3Hex([]byte(merged))
	gotDigest := digest.Blake3Hex([]byte(decoded))
	if gotDigest != wantDigest || decoded != merged {
		return &SelfTestError{WantDigest: wantDigest, GotDigest: gotDigest}
	}
	return nil
}

// usedDecoders collects the Python decode routine for each distinct
// technique in application order, deduplicated and sorted for stable output.
func usedDecoders(reg *codec.Registry, techniques []string) (sources []string, ids []string, err error) {
	seen := make(map[string]bool)
	for _, id := range techniques {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		enc, err := reg.Lookup(id)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, enc.PythonDecoder())
	}
	return sources, ids, nil
}

// pyLiteral renders a long string as adjacent Python literals, 76 characters
// per line, indented for use inside parentheses.
func pyLiteral(s string) string {
	const width = 76
	var sb strings.Builder
	for i := 0; i < len(s); i += width {
		end := i + width
		if end > len(s) {
			end = len(s)
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("    \"")
		sb.WriteString(s[i:end])
		sb.WriteString("\"")
	}
	if s == "" {
		return "    \"\""
	}
	return sb.String()
}
