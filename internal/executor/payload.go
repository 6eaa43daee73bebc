package executor

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sells-group/equity-research/internal/model"
)

// ErrUnparseablePayload is returned when model output is not a JSON object
// matching the expected payload schema.
var ErrUnparseablePayload = eris.New("executor: unparseable payload")

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	analysisSchema = mustSchema("schemas/analysis.json")
	reportSchema   = mustSchema("schemas/report.json")
)

func mustSchema(path string) *gojsonschema.Schema {
	raw, err := schemaFS.ReadFile(path)
	if err != nil {
		panic(err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// DecodeAnalysis strictly decodes analyzer output.
func DecodeAnalysis(text string) (model.AnalysisPayload, error) {
	var p model.AnalysisPayload
	if err := decodePayload(text, analysisSchema, &p); err != nil {
		return model.AnalysisPayload{}, err
	}
	return p, nil
}

// DecodeReport strictly decodes synthesizer output and returns the report
// text.
func DecodeReport(text string) (string, error) {
	var p struct {
		Report string `json:"report"`
	}
	if err := decodePayload(text, reportSchema, &p); err != nil {
		return "", err
	}
	return p.Report, nil
}

// decodePayload validates text against schema and then decodes it into v.
// A single surrounding markdown code fence is tolerated; nothing else is.
func decodePayload(text string, schema *gojsonschema.Schema, v any) error {
	raw := []byte(stripFence(text))
	if !json.Valid(raw) {
		return eris.Wrap(ErrUnparseablePayload, "not valid JSON")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return eris.Wrapf(ErrUnparseablePayload, "schema check: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.Field()+": "+e.Description())
		}
		return eris.Wrapf(ErrUnparseablePayload, "schema violations: %s", strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrapf(ErrUnparseablePayload, "decode: %v", err)
	}
	return nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:i]), "{") {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
