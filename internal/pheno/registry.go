package pheno

import (
	"context"
	"fmt"
	"sort"
)

// FieldRegistry records which file first defined each field in this run.
type FieldRegistry struct {
	owners map[string]string
}

// NewFieldRegistry returns an empty registry.
func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{owners: make(map[string]string)}
}

// Owner returns the file that claimed fieldID, if any.
func (r *FieldRegistry) Owner(fieldID string) (string, bool) {
	owner, ok := r.owners[fieldID]
	return owner, ok
}

// Claim binds fieldID to source. It reports false, and leaves the registry
// unchanged, when the field is already owned.
func (r *FieldRegistry) Claim(fieldID, source string) bool {
	if _, ok := r.owners[fieldID]; ok {
		return false
	}
	r.owners[fieldID] = source
	return true
}

// Has reports whether any file claimed fieldID.
func (r *FieldRegistry) Has(fieldID string) bool {
	_, ok := r.owners[fieldID]
	return ok
}

// Len returns the number of claimed fields.
func (r *FieldRegistry) Len() int {
	return len(r.owners)
}

// Fields returns every claimed field ID in lexical order.
func (r *FieldRegistry) Fields() []string {
	out := make([]string, 0, len(r.owners))
	for id := range r.owners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParticipantRegistry tracks identifiers already written as participant rows.
type ParticipantRegistry struct {
	seen map[string]struct{}
}

// NewParticipantRegistry returns an empty registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{seen: make(map[string]struct{})}
}

// Register emits a participant row for id the first time it is seen in the
// run. It reports whether a row was emitted.
func (r *ParticipantRegistry) Register(ctx context.Context, sink Sink, id string) (bool, error) {
	if _, ok := r.seen[id]; ok {
		return false, nil
	}
	if err := sink.InsertParticipant(ctx, id); err != nil {
		return false, fmt.Errorf("insert participant %s: %w", id, err)
	}
	r.seen[id] = struct{}{}
	return true, nil
}

// Len returns the number of registered participants.
func (r *ParticipantRegistry) Len() int {
	return len(r.seen)
}
