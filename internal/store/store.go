package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/swagger-mcp/gateway/internal/compiler"
	"github.com/swagger-mcp/gateway/internal/ids"
)

// Store is the EndpointStore: an in-memory, transactionally-consistent
// record of endpoints and their compiled catalogs. Writes are serialized
// per endpoint name, matching spec.md §5's "transactional and serialized
// per name" requirement, while reads and writes to unrelated names proceed
// without contention, the same per-key-lock shape session.Ledger uses for
// its own writes.
type Store struct {
	mu sync.RWMutex
	// byID is the single source of truth; byName indexes non-deleted
	// endpoints for fast name lookups and is rebuilt alongside byID under
	// the same lock.
	byID   map[string]*Endpoint
	byName map[string]string // name -> id, non-deleted only

	nameLocksMu sync.Mutex
	nameLocks   map[string]*sync.Mutex
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:      make(map[string]*Endpoint),
		byName:    make(map[string]string),
		nameLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) nameLock(name string) *sync.Mutex {
	s.nameLocksMu.Lock()
	defer s.nameLocksMu.Unlock()
	m, ok := s.nameLocks[name]
	if !ok {
		m = &sync.Mutex{}
		s.nameLocks[name] = m
	}
	return m
}

// Create compiles swaggerContent and either inserts a new endpoint or, if a
// non-deleted endpoint already owns name, merges into it in place (keeping
// the same id), per spec.md §4.2.
func (s *Store) Create(name, description string, swaggerContent []byte) (*Endpoint, error) {
	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	existingID, hasExisting := s.byName[name]
	var existing *Endpoint
	if hasExisting {
		existing = s.byID[existingID]
	}
	others := s.otherCatalogs(existingID)
	s.mu.RUnlock()

	if existing == nil {
		compiled, err := compiler.Compile(swaggerContent)
		if err != nil {
			return nil, err
		}
		if err := compiler.CheckConflicts(compiled, others); err != nil {
			return nil, err
		}

		now := time.Now()
		ep := &Endpoint{
			ID:          ids.NewEndpointID(),
			Name:        name,
			Description: description,
			BaseURL:     compiled.BaseURL,
			SpecDoc:     compiled.Document,
			Catalog:     compiled.Tools,
			Status:      StatusRunning,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		s.mu.Lock()
		s.byID[ep.ID] = ep
		s.byName[ep.Name] = ep.ID
		s.mu.Unlock()
		return ep, nil
	}

	merged, err := compiler.CompileMerge(&compiler.CompiledSpec{
		BaseURL:  existing.BaseURL,
		Tools:    existing.Catalog,
		Document: existing.SpecDoc,
	}, swaggerContent)
	if err != nil {
		return nil, err
	}
	if err := compiler.CheckConflicts(merged, others); err != nil {
		return nil, err
	}

	s.mu.Lock()
	existing.BaseURL = merged.BaseURL
	existing.SpecDoc = merged.Document
	existing.Catalog = merged.Tools
	if description != "" {
		existing.Description = description
	}
	existing.UpdatedAt = time.Now()
	s.mu.Unlock()

	return existing, nil
}

// otherCatalogs returns compiled catalogs for every non-deleted endpoint
// other than excludeID, for conflict checking. Caller must hold s.mu
// (read or write).
func (s *Store) otherCatalogs(excludeID string) []*compiler.CompiledSpec {
	var others []*compiler.CompiledSpec
	for id, ep := range s.byID {
		if id == excludeID || ep.Status == StatusDeleted {
			continue
		}
		others = append(others, &compiler.CompiledSpec{
			BaseURL:  ep.BaseURL,
			Tools:    ep.Catalog,
			Document: ep.SpecDoc,
		})
	}
	return others
}

// Fields that Update may change. SpecContent, when non-nil, triggers a
// recompile. BaseURL is intentionally absent: spec.md §4.2 forbids editing
// it through this path.
type UpdateFields struct {
	Name        *string
	Description *string
	SpecContent []byte
}

// Update applies fields to the endpoint identified by id, recompiling when
// SpecContent is set.
func (s *Store) Update(id string, fields UpdateFields) (*Endpoint, error) {
	s.mu.RLock()
	ep, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok || ep.Status == StatusDeleted {
		return nil, &NotFoundError{ID: id}
	}

	lock := s.nameLock(ep.Name)
	lock.Lock()
	defer lock.Unlock()

	if fields.Name != nil && *fields.Name != ep.Name {
		s.mu.RLock()
		_, taken := s.byName[*fields.Name]
		s.mu.RUnlock()
		if taken {
			return nil, fmt.Errorf("endpoint name %q already exists", *fields.Name)
		}
	}

	if fields.SpecContent != nil {
		s.mu.RLock()
		others := s.otherCatalogs(id)
		s.mu.RUnlock()

		compiled, err := compiler.Compile(fields.SpecContent)
		if err != nil {
			return nil, err
		}
		if err := compiler.CheckConflicts(compiled, others); err != nil {
			return nil, err
		}

		s.mu.Lock()
		ep.SpecDoc = compiled.Document
		ep.Catalog = compiled.Tools
		ep.BaseURL = compiled.BaseURL
		ep.UpdatedAt = time.Now()
		s.mu.Unlock()
	}

	if fields.Description != nil {
		s.mu.Lock()
		ep.Description = *fields.Description
		ep.UpdatedAt = time.Now()
		s.mu.Unlock()
	}

	if fields.Name != nil && *fields.Name != ep.Name {
		s.mu.Lock()
		delete(s.byName, ep.Name)
		ep.Name = *fields.Name
		s.byName[ep.Name] = ep.ID
		ep.UpdatedAt = time.Now()
		s.mu.Unlock()
	}

	return ep, nil
}

// Delete soft-deletes the endpoint: it stops being eligible for new
// sessions but live sessions are not forcibly closed.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	ep.Status = StatusDeleted
	ep.UpdatedAt = time.Now()
	delete(s.byName, ep.Name)
	return nil
}

// Get returns the endpoint by id, including deleted ones (callers that
// need to distinguish "never existed" from "deleted" use this directly).
func (s *Store) Get(id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.byID[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return ep, nil
}

// ListAll returns every non-deleted endpoint, unpaginated, for status
// reporting across the whole registry.
func (s *Store) ListAll() []*Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Endpoint, 0, len(s.byID))
	for _, ep := range s.byID {
		if ep.Status == StatusDeleted {
			continue
		}
		all = append(all, ep)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// List returns a page of endpoints matching search (against name or
// description) and status, per spec.md §4.2.
func (s *Store) List(page, pageSize int, search string, status Status) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.RLock()
	matches := make([]*Endpoint, 0, len(s.byID))
	for _, ep := range s.byID {
		if status != "" && ep.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(ep.Name), strings.ToLower(search)) &&
			!strings.Contains(strings.ToLower(ep.Description), strings.ToLower(search)) {
			continue
		}
		matches = append(matches, ep)
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })

	total := len(matches)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return Page{
		Records:    matches[start:end],
		PageNum:    page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
