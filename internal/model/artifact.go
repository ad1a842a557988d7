package model

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/abhisek/foresight/internal/features"
)

// artifact is the persisted form of a Logistic classifier.
type artifact struct {
	Kind      string             `json:"kind"`
	Version   string             `json:"version"`
	Bias      float64            `json:"bias"`
	Lambda    float64            `json:"lambda"`
	Weights   map[string]float64 `json:"weights"`
	TrainedAt time.Time          `json:"trained_at"`
	Examples  int                `json:"examples"`
}

// artifactSchema guards against deploying a truncated or hand-edited
// artifact.
var artifactSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"kind":       map[string]any{"const": NameLogistic},
		"version":    map[string]any{"type": "string", "minLength": 1},
		"bias":       map[string]any{"type": "number"},
		"lambda":     map[string]any{"type": "number", "minimum": 0},
		"weights":    map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "number"}, "minProperties": 1},
		"trained_at": map[string]any{"type": "string"},
		"examples":   map[string]any{"type": "integer", "minimum": 0},
	},
	"required": []any{"kind", "version", "bias", "weights", "trained_at", "examples"},
}

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		// The compiler expects a decoded JSON value, not Go maps with typed
		// slices, so round-trip through JSON first.
		raw, err := json.Marshal(artifactSchema)
		if err != nil {
			compileErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compileErr = err
			return
		}
		c := jsonschema.NewCompiler()
		const url = "schema://logistic-artifact.json"
		if err := c.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(url)
	})
	return compiledSchema, compileErr
}

// MarshalArtifact serializes a classifier.
func MarshalArtifact(m *Logistic) ([]byte, error) {
	a := artifact{
		Kind:      NameLogistic,
		Version:   m.version,
		Bias:      m.bias,
		Lambda:    m.lambda,
		Weights:   make(map[string]float64, len(m.weights)),
		TrainedAt: m.trainedAt,
		Examples:  m.examples,
	}
	for n, w := range m.weights {
		a.Weights[string(n)] = w
	}
	return json.Marshal(a)
}

// UnmarshalArtifact validates and decodes a persisted classifier.
func UnmarshalArtifact(data []byte) (*Logistic, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid artifact JSON: %w", err)
	}
	sch, err := schema()
	if err != nil {
		return nil, fmt.Errorf("compile artifact schema: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("artifact schema validation failed: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	known := make(map[features.Name]bool)
	for _, n := range features.All() {
		known[n] = true
	}
	weights := make(map[features.Name]float64, len(a.Weights))
	for k, w := range a.Weights {
		n := features.Name(k)
		if !known[n] {
			return nil, fmt.Errorf("artifact weight for unknown feature %q", k)
		}
		weights[n] = w
	}
	return NewLogistic(a.Version, weights, a.Bias, a.Lambda, a.TrainedAt, a.Examples), nil
}
