package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ukbsql/internal/pheno"
	"github.com/roach88/ukbsql/internal/source"
)

// headerReport renders parsed headers for the header command.
type headerReport struct {
	Files []*pheno.Header `json:"files"`
}

func (r headerReport) String() string {
	var b strings.Builder
	for i, h := range r.Files {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %d columns, %d ignored\n", h.Source, h.Width(), h.Ignored())
		for j, c := range h.Columns {
			fmt.Fprintf(&b, "  %4d  %-10s  %s", j+1, c.Kind, c.Header)
			if c.Kind != pheno.ColumnIdentifier {
				fmt.Fprintf(&b, "  field=%s repetition=%s", c.FieldID, c.Repetition)
			}
			b.WriteByte('\n')
		}
		for _, d := range h.Duplicates {
			fmt.Fprintf(&b, "  warning: field %s already loaded from %s\n", d.FieldID, d.Owner)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewHeaderCommand creates the header command.
func NewHeaderCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "header <pheno-file>...",
		Short: "Show how phenotype headers are interpreted",
		Long: `Parse the header line of each phenotype file, in order, and print the
column descriptors a load would use. Fields already claimed by an earlier
file are shown as ignored. No database is touched.

Example:
  ukbsql header ukb1.tab ukb2.tab
  ukbsql header --format json s3://bucket/ukb1.tab`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    rootOpts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   rootOpts.Verbose,
			}

			fields := pheno.NewFieldRegistry()
			report := headerReport{}
			for _, name := range args {
				formatter.VerboseLog("reading header of %s", name)
				h, err := readHeader(cmd, name, fields)
				if err != nil {
					var fe *pheno.FormatError
					if errors.As(err, &fe) {
						return fail(formatter, ExitFailure, errorCode(err), "malformed header", err)
					}
					return fail(formatter, ExitCommandError, ErrCodeInput, "cannot read header", err)
				}
				report.Files = append(report.Files, h)
			}
			return formatter.Success(report)
		},
	}
}

func readHeader(cmd *cobra.Command, name string, fields *pheno.FieldRegistry) (*pheno.Header, error) {
	in, err := source.Open(commandContext(cmd), name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, &pheno.FormatError{Code: pheno.ErrCodeEmptyFile, Source: name, Column: -1, Message: "missing header line"}
	}
	return pheno.ParseHeader(line, name, fields)
}
