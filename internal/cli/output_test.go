package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ukbsql/internal/pheno"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]int64{"facts": 8})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"facts": float64(8)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeExists, "database file exists: ukb.db", "ukb.db")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeExists, resp.Error.Code)
	assert.Equal(t, "database file exists: ukb.db", resp.Error.Message)
	assert.Equal(t, "ukb.db", resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(versionInfo{Version: "1.2.3", Go: "go1.22"}))
	assert.Equal(t, "ukbsql 1.2.3 (go1.22)\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error(ErrCodeInput, "cannot open a.tab", "a.tab"))
			assert.Contains(t, buf.String(), "Error [E_INPUT]: cannot open a.tab")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: a.tab")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "ukb1.tab")

			assert.Empty(t, out.String(), "diagnostics must not reach stdout")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "Processing ukb1.tab")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	fe := &pheno.FormatError{Code: pheno.ErrCodeColumnCount, Source: "a.tab", Line: 3, Column: -1, Message: "short"}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"command", NewExitError(ExitCommandError, "bad flags"), ExitCommandError},
		{"wrapped", fmt.Errorf("load: %w", WrapExitError(ExitFailure, "load failed", fe)), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	fe := &pheno.FormatError{Code: pheno.ErrCodeHeaderShape, Source: "a.tab", Line: 1, Column: 2, Message: "bad token"}
	err := WrapExitError(ExitFailure, "phenotype load failed", fe)

	assert.Equal(t, "phenotype load failed: E_HEADER_SHAPE: a.tab:1: column 3: bad token", err.Error())
	var got *pheno.FormatError
	require.True(t, errors.As(err, &got))
	assert.Same(t, fe, got)

	assert.Equal(t, "bad flags", NewExitError(ExitCommandError, "bad flags").Error())
}

func TestErrorCode(t *testing.T) {
	fe := &pheno.FormatError{Code: pheno.ErrCodeMissingIdentifier, Source: "a.tab", Line: 2, Column: 0}
	assert.Equal(t, "E_MISSING_IDENTIFIER", errorCode(fmt.Errorf("load: %w", fe)))
	assert.Equal(t, ErrCodeGeneric, errorCode(errors.New("disk full")))
}
