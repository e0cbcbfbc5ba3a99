package messaging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
)

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action"],
	"properties": {
		"action":   {"type": "string", "minLength": 1},
		"key":      {"type": "string"},
		"keys":     {"type": "array", "items": {"type": "string"}},
		"payload":  {"type": "object"},
		"delta":    {"type": "object"},
		"lifetime": {"type": "string"},
		"seq":      {"type": "integer", "minimum": 0},
		"at":       {"type": "integer"}
	}
}`

var (
	envelopeOnce     sync.Once
	envelopeCompiled *jsonschema.Schema
	envelopeErr      error
)

func compiledEnvelope() (*jsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		envelopeCompiled, envelopeErr = compiler.Compile([]byte(envelopeSchema))
	})
	return envelopeCompiled, envelopeErr
}

// Decode validates data against the envelope schema and decodes it. Malformed input
// yields a validation error naming the offending locations.
func Decode(data []byte) (Message, error) {
	s, err := compiledEnvelope()
	if err != nil {
		return Message{}, errors.InternalError("compile envelope schema").WithCause(err).Build()
	}

	result := s.ValidateJSON(data)
	if !result.IsValid() {
		return Message{}, errors.ValidationError("malformed message").
			WithContext("violations", violations(result.Errors)).
			Build()
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, errors.ValidationError("malformed message").WithCause(err).Build()
	}
	return msg, nil
}

// DecodeResponse decodes a response body.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, errors.ValidationError("malformed response").WithCause(err).Build()
	}
	return resp, nil
}

func violations(errs map[string]*jsonschema.EvaluationError) string {
	parts := make([]string, 0, len(errs))
	for location, e := range errs {
		parts = append(parts, fmt.Sprintf("%s: %v", location, e))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
