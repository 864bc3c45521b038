package store

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/trackpyramid/interval"
)

// MemStore is an in-memory Store.  It enforces the same write-order contract
// as BGZFStore and counts the reads made against each path.
type MemStore struct {
	mu        sync.Mutex
	artifacts map[string]*memArtifact
	reads     map[string]int
}

type memArtifact struct {
	layout Layout
	rows   [][]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		artifacts: map[string]*memArtifact{},
		reads:     map[string]int{},
	}
}

// Exists implements Store.
func (s *MemStore) Exists(_ context.Context, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.artifacts[path]
	return ok
}

// Write implements Store.
func (s *MemStore) Write(ctx context.Context, path string, layout Layout, rows RowIterator) error {
	if s.Exists(ctx, path) {
		return nil
	}
	if err := layout.validate(); err != nil {
		return err
	}
	var (
		a       = &memArtifact{layout: layout}
		checker = newSortChecker()
	)
	for rows.Scan() {
		fields := rows.Fields()
		chrom, begin, _, err := layout.Span(fields)
		if err != nil {
			return errorsWithPath(err, path)
		}
		if _, err := checker.check(path, chrom, begin); err != nil {
			return err
		}
		row := make([]string, len(fields))
		copy(row, fields)
		a.rows = append(a.rows, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.artifacts[path] = a
	s.mu.Unlock()
	return nil
}

// Read implements Store.
func (s *MemStore) Read(_ context.Context, path string, r interval.GenomeRange) (Scanner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[path]
	if !ok {
		return nil, storeError("store.Read", path, errors.E(errors.NotExist, "no such artifact"))
	}
	s.reads[path]++
	var out [][]string
	for _, row := range a.rows {
		chrom, begin, end, err := a.layout.Span(row)
		if err != nil {
			return nil, storeError("store.Read", path, err)
		}
		if r.Overlaps(chrom, begin, end) {
			out = append(out, row)
		}
	}
	return &sliceRows{rows: out, i: -1}, nil
}

// Reads returns the number of Read calls made against path.
func (s *MemStore) Reads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[path]
}

// TotalReads returns the number of Read calls made against all paths.
func (s *MemStore) TotalReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.reads {
		n += c
	}
	return n
}

// Len returns the number of artifacts in the store.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Delete removes the artifact at path, if any.
func (s *MemStore) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, path)
}
