// Package pheno normalizes wide phenotype exports into participant, dictionary
// and fact rows.
//
// A phenotype file has one row per participant and one column per
// (field, repetition, array index) combination, encoded in the header as
// f.<fieldId>.<repetition>.<arrayIndex>. The participant column is the
// literal f.eid.
//
// # Run state
//
// Three registries live for the whole run and are shared by every file:
//
//   - FieldRegistry: which file owns each field. A field seen again in a later
//     file is ignored there, with a warning.
//   - Dictionary: (field, raw text) -> Code. Codes are dense, start at 0 and
//     are shared by all fields. The first sighting emits one PHENO_META row.
//   - ParticipantRegistry: identifiers already written to PARTICIPANT.
//
// # Files
//
// Each file moves through Opened -> HeaderParsed -> Streaming and ends in
// either Finalized or Aborted. All rows of a file are written through one
// FileBatch, so an aborted file leaves nothing behind.
//
// Only one goroutine ever touches the registries, which keeps code assignment
// reproducible for a given input order.
package pheno
