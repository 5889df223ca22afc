package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ukbsql/internal/config"
	"github.com/roach88/ukbsql/internal/metrics"
	"github.com/roach88/ukbsql/internal/metrics/prompush"
	"github.com/roach88/ukbsql/internal/pheno"
	"github.com/roach88/ukbsql/internal/progress"
	"github.com/roach88/ukbsql/internal/showcase"
	"github.com/roach88/ukbsql/internal/source"
	"github.com/roach88/ukbsql/internal/store"
)

const defaultCacheSize = 1024

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	ConfigPath string
	Flags      config.Config
}

// loadResult is the command output of a finished load.
type loadResult struct {
	RunID    string                `json:"run_id"`
	Database string                `json:"database"`
	Summary  pheno.Summary         `json:"summary"`
	DataRows int64                 `json:"data_showcase_rows"`
	CodeRows int64                 `json:"code_showcase_rows"`
	Records  showcase.RecordCounts `json:"primary_care"`
	Tables   map[string]int64      `json:"tables"`
}

func (r loadResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s complete: %d phenotype file(s), %d participants, %d fields, %d values, %d facts, %d missing\n",
		r.RunID, r.Summary.Files, r.Summary.Participants, r.Summary.Fields, r.Summary.Values, r.Summary.Facts, r.Summary.Missing)
	fmt.Fprintf(&b, "Database: %s\n", r.Database)
	for _, table := range store.Tables {
		if n, ok := r.Tables[table]; ok {
			fmt.Fprintf(&b, "  %-12s %d\n", table, n)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Build the phenotype database",
		Long: `Load phenotype files, then the data showcase, the coding showcase and
primary care records, into a new database.

Phenotype files are loaded in order. A field that already appeared in an
earlier file is ignored, with a warning. Each file is committed on its own;
a malformed file aborts the run and leaves the earlier files in place.

Settings may come from --config (YAML, JSON or CUE); flags given on the
command line take precedence.

Example:
  ukbsql load -p ukb1.tab,ukb2.tab -d Data_Dictionary_Showcase.csv \
      -c Codings_Showcase.csv -o ukb
  ukbsql load --config ukbsql.yaml --replace
  ukbsql load -p s3://cohort/ukb1.tab --driver pgx --dsn postgres://localhost/ukb`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}
			cfg, err := resolveConfig(opts, cmd.Flags().Changed)
			if err != nil {
				return fail(formatter, ExitCommandError, ErrCodeConfig, "invalid configuration", err)
			}
			return runLoad(cmd, opts, formatter, cfg)
		},
	}

	f := &opts.Flags
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "run configuration file (.yaml, .json or .cue)")
	cmd.Flags().StringSliceVarP(&f.Pheno, "pheno", "p", nil, "phenotype file(s), comma separated or repeated")
	cmd.Flags().StringVarP(&f.Data, "data", "d", "", "data showcase CSV (Data_Dictionary_Showcase.csv)")
	cmd.Flags().StringVarP(&f.Code, "code", "c", "", "coding showcase CSV (Codings_Showcase.csv)")
	cmd.Flags().StringVarP(&f.Out, "out", "o", "", "output database name; .db is appended")
	cmd.Flags().IntVarP(&f.Memory, "memory", "m", defaultCacheSize, "SQLite cache_size")
	cmd.Flags().StringVarP(&f.GP, "gp", "g", "", "primary care clinical records (gp_clinical)")
	cmd.Flags().StringVarP(&f.Drug, "drug", "u", "", "primary care prescriptions (gp_scripts)")
	cmd.Flags().BoolVarP(&f.Replace, "replace", "r", false, "replace an existing database")
	cmd.Flags().BoolVarP(&f.Danger, "danger", "D", false, "faster, unsafe SQLite settings; the database may be corrupted if the machine crashes")
	cmd.Flags().StringVar(&f.Driver, "driver", store.DriverSQLite, "database driver (sqlite3|sqlite|pgx)")
	cmd.Flags().StringVar(&f.DSN, "dsn", "", "PostgreSQL connection string (with --driver pgx)")
	cmd.Flags().IntVar(&f.MaxLineBytes, "max-line-bytes", pheno.DefaultMaxLineBytes, "longest accepted phenotype line")
	cmd.Flags().BoolVar(&f.NoProgress, "no-progress", false, "do not print progress")
	cmd.Flags().StringVar(&f.Pushgateway, "pushgateway", "", "Prometheus Pushgateway URL for run metrics")

	return cmd
}

// resolveConfig merges the config file (if any) with the flags the user set.
func resolveConfig(opts *LoadOptions, changed func(string) bool) (config.Config, error) {
	flags := opts.Flags
	if opts.ConfigPath == "" {
		return flags, flags.Validate()
	}

	file, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg := *file
	override := map[string]func(){
		"pheno":          func() { cfg.Pheno = flags.Pheno },
		"data":           func() { cfg.Data = flags.Data },
		"code":           func() { cfg.Code = flags.Code },
		"out":            func() { cfg.Out = flags.Out },
		"memory":         func() { cfg.Memory = flags.Memory },
		"gp":             func() { cfg.GP = flags.GP },
		"drug":           func() { cfg.Drug = flags.Drug },
		"replace":        func() { cfg.Replace = flags.Replace },
		"danger":         func() { cfg.Danger = flags.Danger },
		"driver":         func() { cfg.Driver = flags.Driver },
		"dsn":            func() { cfg.DSN = flags.DSN },
		"max-line-bytes": func() { cfg.MaxLineBytes = flags.MaxLineBytes },
		"no-progress":    func() { cfg.NoProgress = flags.NoProgress },
		"pushgateway":    func() { cfg.Pushgateway = flags.Pushgateway },
	}
	for name, apply := range override {
		if changed(name) {
			apply()
		}
	}
	if cfg.Memory == 0 {
		cfg.Memory = defaultCacheSize
	}
	if cfg.Driver == "" {
		cfg.Driver = store.DriverSQLite
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = pheno.DefaultMaxLineBytes
	}
	return cfg, cfg.Validate()
}

// databaseTarget returns the DSN to open, or a usage error.
func databaseTarget(cfg config.Config) (string, error) {
	if cfg.Driver == store.DriverPostgres {
		if cfg.DSN == "" {
			return "", errors.New("you must provide --dsn with --driver pgx")
		}
		return cfg.DSN, nil
	}
	if cfg.Out == "" {
		return "", errors.New("you must provide the output prefix with --out")
	}
	return cfg.Out + ".db", nil
}

func runLoad(cmd *cobra.Command, opts *LoadOptions, formatter *OutputFormatter, cfg config.Config) error {
	log := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(log)

	if len(cfg.Pheno) == 0 {
		return fail(formatter, ExitCommandError, ErrCodeUsage, "you must provide the phenotype file(s) with --pheno", nil)
	}
	dsn, err := databaseTarget(cfg)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}
	formatter.VerboseLog("loading %d phenotype file(s) into %s (driver %s)", len(cfg.Pheno), dsn, cfg.Driver)
	inputs := append(append([]string{}, cfg.Pheno...), cfg.Data, cfg.Code, cfg.GP, cfg.Drug)
	for _, name := range inputs {
		if name != "" && !source.Exists(name) {
			return fail(formatter, ExitCommandError, ErrCodeInput,
				fmt.Sprintf("cannot open %s, please check you have the correct input", name), nil)
		}
	}

	if cfg.Pushgateway != "" {
		backend, err := prompush.NewBackend("ukbsql", cfg.Pushgateway)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeConfig, "invalid pushgateway", err)
		}
		metrics.SetBackend(backend)
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("failed to push metrics", "error", err)
			}
			metrics.SetBackend(nil)
		}()
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, rolling back current file", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	st, err := store.Open(ctx, dsn, store.Options{
		Driver:    cfg.Driver,
		CacheSize: cfg.Memory,
		Danger:    cfg.Danger,
		Replace:   cfg.Replace,
	})
	if errors.Is(err, store.ErrExists) {
		return fail(formatter, ExitCommandError, ErrCodeExists,
			fmt.Sprintf("database file exists: %s, use --replace to replace it", dsn), nil)
	}
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("opened database", "database", dsn, "driver", st.Driver())

	runID, err := st.StartRun(ctx, Version)
	if err != nil {
		return fail(formatter, ExitFailure, ErrCodeDatabase, "failed to record run", err)
	}
	result := loadResult{RunID: runID, Database: dsn}

	s3cfg := cfg.S3
	if s3cfg == (source.S3Config{}) {
		s3cfg = source.S3ConfigFromEnv()
	}
	opener := &source.Opener{S3: s3cfg}

	phenoOpts := []pheno.Option{
		pheno.WithOpener(opener),
		pheno.WithLogger(log),
		pheno.WithMaxLineBytes(cfg.MaxLineBytes),
	}
	showOpts := []showcase.Option{
		showcase.WithOpener(opener),
		showcase.WithLogger(log),
	}
	if !cfg.NoProgress {
		p := progress.New(cmd.ErrOrStderr())
		phenoOpts = append(phenoOpts, pheno.WithProgress(p))
		showOpts = append(showOpts, showcase.WithProgress(p))
	}

	abort := func(message string, err error) error {
		if ctx.Err() != nil {
			message = "load interrupted"
		}
		if finishErr := st.FinishRun(context.WithoutCancel(ctx), store.RunFailed, result.Summary); finishErr != nil {
			log.Warn("failed to record run failure", "error", finishErr)
		}
		return fail(formatter, ExitFailure, errorCode(err), message, err)
	}

	loader := pheno.NewLoader(st, phenoOpts...)
	result.Summary, err = loader.LoadFiles(ctx, cfg.Pheno)
	if err != nil {
		return abort("phenotype load failed", err)
	}
	log.Info("phenotype files loaded", "fields", result.Summary.Fields, "participants", result.Summary.Participants)

	sc := showcase.NewLoader(st, showOpts...)
	if cfg.Data != "" {
		if result.DataRows, err = sc.LoadDataShowcase(ctx, cfg.Data, loader.Fields()); err != nil {
			return abort("data showcase load failed", err)
		}
	} else {
		log.Warn("no data showcase given, DATA_META is empty")
	}
	if cfg.Code != "" {
		if result.CodeRows, err = sc.LoadCodes(ctx, cfg.Code); err != nil {
			return abort("code showcase load failed", err)
		}
	} else {
		log.Warn("no coding showcase given, CODE and CODE_META are empty")
	}
	if result.Records, err = sc.LoadRecords(ctx, cfg.GP, cfg.Drug); err != nil {
		return abort("primary care load failed", err)
	}

	log.Info("building indexes")
	if err := st.CreateIndexes(ctx); err != nil {
		return abort("failed to build indexes", err)
	}
	if err := st.FinishRun(ctx, store.RunComplete, result.Summary); err != nil {
		return fail(formatter, ExitFailure, ErrCodeDatabase, "failed to record run", err)
	}

	if result.Tables, err = st.Counts(ctx); err != nil {
		return fail(formatter, ExitFailure, ErrCodeDatabase, "failed to count rows", err)
	}
	log.Info("run complete", "run", runID, "facts", result.Summary.Facts, "missing", result.Summary.Missing,
		"ignored_columns", result.Summary.Ignored)

	return formatter.Success(result)
}
