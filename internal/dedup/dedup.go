// Package dedup decides which freshly parsed messages are actually new.
// The durable "already processed" set lives in the tabular log; this
// package only holds the in-run view of it.
package dedup

import "github.com/mailledger/mailledger/internal/parser"

// KeySet is the set of identity keys already present in the tabular log,
// read once per run before any record is filtered.
type KeySet map[string]struct{}

// NewKeySet builds a KeySet from the logged key column.
func NewKeySet(keys []string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Filter returns the records whose identity key is not in set, preserving
// input order. Duplicate keys within records are collapsed too: the first
// occurrence wins. The input set is not modified.
func Filter(set KeySet, records []*parser.EmailRecord) []*parser.EmailRecord {
	inRun := make(map[string]struct{}, len(records))
	var fresh []*parser.EmailRecord
	for _, rec := range records {
		if set.Has(rec.IdentityKey) {
			continue
		}
		if _, dup := inRun[rec.IdentityKey]; dup {
			continue
		}
		inRun[rec.IdentityKey] = struct{}{}
		fresh = append(fresh, rec)
	}
	return fresh
}
