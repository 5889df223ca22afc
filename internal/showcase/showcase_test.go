package showcase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ukbsql/internal/pheno"
	"github.com/roach88/ukbsql/internal/source"
	"github.com/roach88/ukbsql/internal/store"
)

type memFiles map[string]string

func (m memFiles) Open(_ context.Context, name string) (*source.Input, error) {
	body, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("cannot open %s", name)
	}
	return source.NewInput(name, io.NopCloser(strings.NewReader(body)), int64(len(body))), nil
}

type recordingProgress struct {
	begun    []string
	advances int
	finished int
	aborted  int
}

func (p *recordingProgress) Begin(name string, _ int64) { p.begun = append(p.begun, name) }
func (p *recordingProgress) Advance(int64)             { p.advances++ }
func (p *recordingProgress) Finish()                   { p.finished++ }
func (p *recordingProgress) Abort()                    { p.aborted++ }

func newTestLoader(t *testing.T, files memFiles, opts ...Option) (*Loader, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLoader(s, append([]Option{WithOpener(files)}, opts...)...), s
}

func count(t *testing.T, s *store.Store, table string) int64 {
	t.Helper()
	n, err := s.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

const codeShowcase = `Coding,Value,Meaning
9,0,Female
9,1,Male
100261,1,"Yes, always"
100261,-3,Prefer not to answer
`

func TestLoadCodes(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLoader(t, memFiles{"codes.csv": codeShowcase})

	rows, err := l.LoadCodes(ctx, "codes.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rows)
	assert.Equal(t, int64(2), count(t, s, "CODE"))
	assert.Equal(t, int64(4), count(t, s, "CODE_META"))

	var meaning string
	err = s.DB().QueryRow("SELECT Meaning FROM CODE_META WHERE ID = 100261 AND Value = '1'").Scan(&meaning)
	require.NoError(t, err)
	assert.Equal(t, "Yes, always", meaning)
}

func TestLoadCodes_WrongWidthRollsBack(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLoader(t, memFiles{"codes.csv": "Coding,Value,Meaning\n9,0,Female\n9,1\n"})

	_, err := l.LoadCodes(ctx, "codes.csv")
	var fe *pheno.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, pheno.ErrCodeRecordWidth, fe.Code)
	assert.Equal(t, int64(3), fe.Line)
	assert.Equal(t, int64(0), count(t, s, "CODE"))
	assert.Equal(t, int64(0), count(t, s, "CODE_META"))
}

func TestLoadCodes_AbortEndsProgress(t *testing.T) {
	progress := &recordingProgress{}
	l, _ := newTestLoader(t, memFiles{"codes.csv": "Coding,Value,Meaning\n9,0,Female\n9\n"}, WithProgress(progress))

	_, err := l.LoadCodes(context.Background(), "codes.csv")
	require.Error(t, err)
	assert.Equal(t, 1, progress.aborted)
	assert.Zero(t, progress.finished)
}

func TestLoadCodes_BadCoding(t *testing.T) {
	l, _ := newTestLoader(t, memFiles{"codes.csv": "Coding,Value,Meaning\nnine,0,Female\n"})

	_, err := l.LoadCodes(context.Background(), "codes.csv")
	var fe *pheno.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, pheno.ErrCodeRecordValue, fe.Code)
	assert.Equal(t, 0, fe.Column)
}

func TestLoadCodes_EmptyFile(t *testing.T) {
	l, _ := newTestLoader(t, memFiles{"codes.csv": ""})

	_, err := l.LoadCodes(context.Background(), "codes.csv")
	var fe *pheno.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, pheno.ErrCodeEmptyFile, fe.Code)
}

func TestLoadCodes_MissingFile(t *testing.T) {
	l, _ := newTestLoader(t, memFiles{})

	_, err := l.LoadCodes(context.Background(), "nope.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open code")
}

const dataShowcase = `Path,Category,FieldID,Field,Participants,Items,Stability,ValueType,Units,ItemType,Strata,Sexed,Instances,Array,Coding,Notes,Link
Population characteristics > Baseline characteristics,100094,31,Sex,502411,502411,Complete,Categorical single,,Data,Primary,Unisex,1,1,9,"Participants' sex, as recorded",http://biobank.ctsu.ox.ac.uk/crystal/field.cgi?id=31
Assessment centre > Physical measures > Anthropometry,100010,50,Standing height,499889,499889,Complete,Continuous,cm,Data,Primary,Unisex,4,1,,,http://biobank.ctsu.ox.ac.uk/crystal/field.cgi?id=50
`

func TestLoadDataShowcase(t *testing.T) {
	ctx := context.Background()
	progress := &recordingProgress{}
	l, s := newTestLoader(t, memFiles{"data.csv": dataShowcase}, WithProgress(progress))

	fields := pheno.NewFieldRegistry()
	fields.Claim("31", "a.tsv")

	rows, err := l.LoadDataShowcase(ctx, "data.csv", fields)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	var (
		included bool
		units    sql.NullString
		coding   sql.NullInt64
		field    string
	)
	err = s.DB().QueryRow("SELECT Field, Units, Coding, Included FROM DATA_META WHERE FieldID = 31").
		Scan(&field, &units, &coding, &included)
	require.NoError(t, err)
	assert.Equal(t, "Sex", field)
	assert.False(t, units.Valid, "empty Units should be NULL")
	assert.Equal(t, sql.NullInt64{Int64: 9, Valid: true}, coding)
	assert.True(t, included)

	err = s.DB().QueryRow("SELECT Units, Coding, Included FROM DATA_META WHERE FieldID = 50").
		Scan(&units, &coding, &included)
	require.NoError(t, err)
	assert.Equal(t, "cm", units.String)
	assert.False(t, coding.Valid, "empty Coding should be NULL")
	assert.False(t, included)

	assert.Equal(t, []string{"data.csv"}, progress.begun)
	assert.Equal(t, 2, progress.advances)
	assert.Equal(t, 1, progress.finished)
	assert.Zero(t, progress.aborted)
}

func TestLoadDataShowcase_HeaderWidth(t *testing.T) {
	l, _ := newTestLoader(t, memFiles{"data.csv": "Path,Category,FieldID\n"})

	_, err := l.LoadDataShowcase(context.Background(), "data.csv", pheno.NewFieldRegistry())
	var fe *pheno.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, pheno.ErrCodeRecordWidth, fe.Code)
	assert.Equal(t, int64(1), fe.Line)
}

const clinicalTSV = "eid\tdata_provider\tevent_dt\tread_2\tread_3\tvalue1\tvalue2\tvalue3\n" +
	"1000001\t1\t01/01/2000\t\tXE0Uc\t\t\t\n" +
	"\n" +
	"1000002\t3\t02/02/2002\tC10..\t\t1.5\t\t\n"

const scriptsCSV = "eid,data_provider,issue_date,read_2,bnf_code,dmd_code,drug_name,quantity\n" +
	"1000001,2,03/03/2003,,02.02.01.00,,Bendroflumethiazide 2.5mg tablets,28 tablets\n"

func TestLoadRecords(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLoader(t, memFiles{"gp.tsv": clinicalTSV, "scripts.csv": scriptsCSV})

	counts, err := l.LoadRecords(ctx, "gp.tsv", "scripts.csv")
	require.NoError(t, err)
	assert.Equal(t, RecordCounts{Clinical: 2, Scripts: 1}, counts)
	assert.Equal(t, int64(len(Providers)), count(t, s, "gp_provider"))

	var read2, read3 sql.NullString
	err = s.DB().QueryRow("SELECT Read2, Read3 FROM gp_clinical WHERE ID = 1000001").Scan(&read2, &read3)
	require.NoError(t, err)
	assert.False(t, read2.Valid)
	assert.Equal(t, "XE0Uc", read3.String)

	var drug string
	err = s.DB().QueryRow("SELECT Drug_Name FROM gp_scripts WHERE ID = 1000001").Scan(&drug)
	require.NoError(t, err)
	assert.Equal(t, "Bendroflumethiazide 2.5mg tablets", drug)
}

func TestLoadRecords_NothingRequested(t *testing.T) {
	l, s := newTestLoader(t, memFiles{})

	counts, err := l.LoadRecords(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, RecordCounts{}, counts)
	assert.Equal(t, int64(0), count(t, s, "gp_provider"))
}

func TestLoadRecords_BadProvider(t *testing.T) {
	body := "eid\tdata_provider\tevent_dt\tread_2\tread_3\tvalue1\tvalue2\tvalue3\n1\tx\t01/01/2000\t\t\t\t\t\n"
	l, s := newTestLoader(t, memFiles{"gp.tsv": body})

	_, err := l.LoadRecords(context.Background(), "gp.tsv", "")
	var fe *pheno.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, 1, fe.Column)
	assert.Equal(t, int64(0), count(t, s, "gp_clinical"))
}

func TestLoadCodes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, _ := newTestLoader(t, memFiles{"codes.csv": codeShowcase})

	_, err := l.LoadCodes(ctx, "codes.csv")
	require.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		header string
		want   rune
	}{
		{"eid\tdata_provider\tevent_dt", '\t'},
		{"eid,data_provider,event_dt", ','},
		{"eid\tnote, with comma\tx", '\t'},
		{"single", ','},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectDelimiter(tt.header), "header %q", tt.header)
	}
}
