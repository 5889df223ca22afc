// Package store writes normalized phenotype data to a relational database.
//
// Tables:
//   - PARTICIPANT(ID): one row per participant identifier
//   - PHENO_META(ID, FieldID, Pheno): the value dictionary
//   - PHENOTYPE(ID, Instance, PhenoID): one row per observed value
//   - CODE, CODE_META, DATA_META: data showcase and coding dictionaries
//   - gp_provider, gp_clinical, gp_scripts: primary care records
//   - INGEST_RUN, INGEST_FILE: one row per run and per finalized input
//
// Each phenotype file is written in its own transaction (see BeginFile), so
// a file that fails leaves no rows behind. Secondary indexes are created
// once, after loading, by CreateIndexes.
//
// SQLite is the default backend (mattn/go-sqlite3, or modernc.org/sqlite for
// cgo-free builds). PostgreSQL is reachable through pgx; queries are written
// with ? placeholders and rebound to $n.
package store
