package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SchemaVersion is the only bundle layout this build understands.
const SchemaVersion = 1

// Format is a bundle serialization.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// FormatFromPath picks the serialization from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".msgpack", ".mpk":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported bundle extension %q", filepath.Ext(path))
	}
}

// Artifact is the on-disk layout of a model bundle.
type Artifact struct {
	SchemaVersion int                        `json:"schemaVersion" yaml:"schemaVersion" msgpack:"schemaVersion"`
	Version       string                     `json:"version" yaml:"version" msgpack:"version"`
	Features      []string                   `json:"features" yaml:"features" msgpack:"features"`
	Encoders      map[string]CategoryMapping `json:"encoders" yaml:"encoders" msgpack:"encoders"`
	Scaler        ScalerArtifact             `json:"scaler" yaml:"scaler" msgpack:"scaler"`
	Classifier    ClassifierArtifact         `json:"classifier" yaml:"classifier" msgpack:"classifier"`
}

// ScalerArtifact carries the fitted standardization parameters.
type ScalerArtifact struct {
	Mean  []float64 `json:"mean" yaml:"mean" msgpack:"mean"`
	Scale []float64 `json:"scale" yaml:"scale" msgpack:"scale"`
}

// ClassifierArtifact carries the fitted classifier. Which fields are used
// depends on Kind.
type ClassifierArtifact struct {
	Kind string `json:"kind" yaml:"kind" msgpack:"kind"`

	// logistic
	Coefficients []float64 `json:"coefficients,omitempty" yaml:"coefficients,omitempty" msgpack:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty" yaml:"intercept,omitempty" msgpack:"intercept,omitempty"`

	// gradient_boosting
	InitScore    float64 `json:"initScore,omitempty" yaml:"initScore,omitempty" msgpack:"initScore,omitempty"`
	LearningRate float64 `json:"learningRate,omitempty" yaml:"learningRate,omitempty" msgpack:"learningRate,omitempty"`
	Trees        []Tree  `json:"trees,omitempty" yaml:"trees,omitempty" msgpack:"trees,omitempty"`
}

// Bundle is a loaded, validated model. It is read-only after Load and safe
// for concurrent use.
type Bundle struct {
	version    string
	encoder    *Encoder
	scaler     *StandardScaler
	classifier Classifier
}

// Info describes a loaded bundle.
type Info struct {
	SchemaVersion  int                        `json:"schemaVersion"`
	Version        string                     `json:"version"`
	ClassifierKind string                     `json:"classifierKind"`
	Features       []string                   `json:"features"`
	Encoders       map[string]CategoryMapping `json:"encoders"`
}

// LoadFile reads and validates a bundle from disk.
func LoadFile(path string) (*Bundle, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}
	defer f.Close()

	return Load(f, format)
}

// Load decodes and validates a bundle. Every failure wraps domain.ErrArtifactLoad.
func Load(r io.Reader, format Format) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read bundle: %v", domain.ErrArtifactLoad, err)
	}

	var a Artifact
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&a)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&a)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &a)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s bundle: %v", domain.ErrArtifactLoad, format, err)
	}

	b, err := FromArtifact(&a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactLoad, err)
	}
	return b, nil
}

// FromArtifact validates a decoded artifact and builds the model from it.
func FromArtifact(a *Artifact) (*Bundle, error) {
	if a.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("schema version %d, want %d", a.SchemaVersion, SchemaVersion)
	}
	if a.Version == "" {
		return nil, fmt.Errorf("bundle version is empty")
	}
	if err := checkFeatureOrder(a.Features); err != nil {
		return nil, err
	}

	enc, err := NewEncoder(a.Encoders)
	if err != nil {
		return nil, err
	}
	scaler, err := NewStandardScaler(a.Scaler.Mean, a.Scaler.Scale)
	if err != nil {
		return nil, err
	}
	clf, err := newClassifier(a.Classifier)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		version:    a.Version,
		encoder:    enc,
		scaler:     scaler,
		classifier: clf,
	}, nil
}

func checkFeatureOrder(features []string) error {
	if len(features) != FeatureCount {
		return fmt.Errorf("bundle lists %d features, want %d", len(features), FeatureCount)
	}
	for i, name := range features {
		if name != FeatureOrder[i] {
			return fmt.Errorf("feature %d is %q, want %q", i, name, FeatureOrder[i])
		}
	}
	return nil
}

func newClassifier(c ClassifierArtifact) (Classifier, error) {
	switch c.Kind {
	case KindLogistic:
		return NewLogisticClassifier(c.Coefficients, c.Intercept)
	case KindGradientBoosting:
		return NewGradientBoostingClassifier(c.InitScore, c.LearningRate, c.Trees)
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", c.Kind)
	}
}

// Version returns the model version label.
func (b *Bundle) Version() string { return b.version }

// Classifier returns the bundle's classifier.
func (b *Bundle) Classifier() Classifier { return b.classifier }

// Score runs encode, scale and classify for one profile.
func (b *Bundle) Score(p *domain.ApplicantProfile) (int, float64, error) {
	v, err := b.encoder.Encode(p)
	if err != nil {
		return 0, 0, err
	}
	scaled := b.scaler.Scale(v)
	return b.classifier.Predict(scaled), b.classifier.PredictProbability(scaled), nil
}

// Info returns a description of the bundle for the API.
func (b *Bundle) Info() Info {
	features := make([]string, len(FeatureOrder))
	copy(features, FeatureOrder)
	return Info{
		SchemaVersion:  SchemaVersion,
		Version:        b.version,
		ClassifierKind: b.classifier.Kind(),
		Features:       features,
		Encoders:       b.encoder.Mappings(),
	}
}
