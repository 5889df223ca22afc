package showcase

import (
	"context"
	"fmt"
)

const recordColumns = 8

// Provider is a primary care data provider.
type Provider struct {
	ID   int
	Name string
}

// Providers seeds gp_provider.
var Providers = []Provider{
	{1, "England (Vision)"},
	{2, "Scotland"},
	{3, "England (TPP)"},
	{4, "Wales"},
}

// RecordCounts reports rows loaded by LoadRecords.
type RecordCounts struct {
	Clinical int64 `json:"clinical"`
	Scripts  int64 `json:"scripts"`
}

// LoadRecords seeds gp_provider and loads whichever of the clinical and
// prescription files is non-empty. It does nothing when both are empty.
func (l *Loader) LoadRecords(ctx context.Context, clinical, scripts string) (RecordCounts, error) {
	var counts RecordCounts
	if clinical == "" && scripts == "" {
		return counts, nil
	}
	if err := l.SeedProviders(ctx); err != nil {
		return counts, err
	}

	var err error
	if clinical != "" {
		if counts.Clinical, err = l.LoadClinical(ctx, clinical); err != nil {
			return counts, err
		}
	}
	if scripts != "" {
		if counts.Scripts, err = l.LoadScripts(ctx, scripts); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// SeedProviders writes the fixed provider list.
func (l *Loader) SeedProviders(ctx context.Context) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ins, err := tx.Inserter(ctx, "gp_provider", "ID", "Name")
	if err != nil {
		return err
	}
	for _, p := range Providers {
		if err := ins.Insert(ctx, p.ID, p.Name); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit providers: %w", err)
	}
	return nil
}

// LoadClinical loads primary care clinical events into gp_clinical:
// eid, data_provider, event_dt, read_2, read_3, value1, value2, value3.
func (l *Loader) LoadClinical(ctx context.Context, path string) (int64, error) {
	return l.loadRecords(ctx, path, "gp_clinical",
		[]string{"ID", "data_provider", "date_event", "Read2", "Read3", "Value1", "Value2", "Value3"})
}

// LoadScripts loads primary care prescriptions into gp_scripts:
// eid, data_provider, issue_date, read_2, bnf_code, dmd_code, drug_name, quantity.
func (l *Loader) LoadScripts(ctx context.Context, path string) (int64, error) {
	return l.loadRecords(ctx, path, "gp_scripts",
		[]string{"ID", "data_provider", "date_issue", "Read2", "BNF_Code", "DMD_Code", "Drug_Name", "Quantity"})
}

func (l *Loader) loadRecords(ctx context.Context, path, tableName string, columns []string) (int64, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.Inserter(ctx, tableName, columns...)
	if err != nil {
		return 0, err
	}

	rows, err := l.readTable(ctx, path, table{kind: tableName, width: recordColumns}, func(line int64, rec []string) error {
		id, err := parseInt(path, line, 0, rec[0])
		if err != nil {
			return err
		}
		provider, err := parseInt(path, line, 1, rec[1])
		if err != nil {
			return err
		}
		return ins.Insert(ctx, id, provider, rec[2],
			optionalText(rec[3]), optionalText(rec[4]), optionalText(rec[5]),
			optionalText(rec[6]), optionalText(rec[7]))
	})
	if err != nil {
		return rows, err
	}

	if err := tx.Commit(); err != nil {
		return rows, fmt.Errorf("commit %s: %w", tableName, err)
	}
	l.log.Info("primary care records loaded", "file", path, "table", tableName, "rows", rows)
	return rows, nil
}
