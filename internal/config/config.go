// Package config loads ukbsql settings from YAML, JSON or CUE files.
//
// Every file is checked against the embedded #Config schema (schema.cue), so
// unknown keys and ill-typed values are rejected before a load starts.
// Command-line flags override file values; see cli.NewLoadCommand.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ukbsql/internal/source"
)

//go:embed schema.cue
var schemaCUE string

// Config holds the settings of one load run.
type Config struct {
	Pheno        []string        `json:"pheno,omitempty" yaml:"pheno,omitempty"`
	Data         string          `json:"data,omitempty" yaml:"data,omitempty"`
	Code         string          `json:"code,omitempty" yaml:"code,omitempty"`
	Out          string          `json:"out,omitempty" yaml:"out,omitempty"`
	Memory       int             `json:"memory,omitempty" yaml:"memory,omitempty"`
	GP           string          `json:"gp,omitempty" yaml:"gp,omitempty"`
	Drug         string          `json:"drug,omitempty" yaml:"drug,omitempty"`
	Replace      bool            `json:"replace,omitempty" yaml:"replace,omitempty"`
	Danger       bool            `json:"danger,omitempty" yaml:"danger,omitempty"`
	Driver       string          `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN          string          `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	MaxLineBytes int             `json:"max_line_bytes,omitempty" yaml:"max_line_bytes,omitempty"`
	NoProgress   bool            `json:"no_progress,omitempty" yaml:"no_progress,omitempty"`
	Pushgateway  string          `json:"pushgateway,omitempty" yaml:"pushgateway,omitempty"`
	S3           source.S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// Load reads path and validates it. The format follows the extension:
// .yaml/.yml, .json or .cue.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".json", ".cue":
		return parseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml, .json or .cue)", ext)
	}
}

func parseYAML(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseCUE(path string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %s", path, cueerrors.Details(err, nil))
	}

	v = schema(ctx).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks c against the #Config schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	v = schema(ctx).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

func schema(ctx *cue.Context) cue.Value {
	return ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
}
