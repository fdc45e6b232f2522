// Package memory is the reference Adapter implementation: an in-memory
// document store used in tests and as the behavioral baseline for real
// backends.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
)

// Options tunes a Store.
type Options struct {
	// UniqueAttribute is enforced case-insensitively unique across the
	// store ("userName" for Users). Empty disables the check.
	UniqueAttribute string

	// Pushdown makes the store apply simple equality filters natively
	// instead of returning them as residual work. Exercises the partial
	// filter application path of the adapter contract.
	Pushdown bool

	// Clock overrides time.Now for deterministic meta timestamps.
	Clock func() time.Time
}

// Store is a concurrency-safe in-memory Adapter. By default it declines
// all query work, returning the full data set with everything residual.
type Store struct {
	resourceType string

	mu       sync.RWMutex
	docs     map[string]scim.Resource
	order    []string
	versions map[string]int

	opts Options
	now  func() time.Time
}

var _ service.Adapter = (*Store)(nil)

// NewStore builds an empty store for resourceType ("User" or "Group").
func NewStore(resourceType string, opts Options) *Store {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Store{
		resourceType: resourceType,
		docs:         make(map[string]scim.Resource),
		versions:     make(map[string]int),
		opts:         opts,
		now:          now,
	}
}

// Count returns the number of stored resources.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) GetResource(ctx context.Context, id string, _ *scim.AttributeSelection) (scim.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, scim.ErrNotFound(s.resourceType, id)
	}
	return scim.CloneResource(doc), nil
}

func (s *Store) QueryResources(ctx context.Context, q service.Query) (service.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return service.QueryResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]scim.Resource, 0, len(s.order))
	for _, id := range s.order {
		resources = append(resources, scim.CloneResource(s.docs[id]))
	}

	residual := service.Residual{
		Filter:     q.Filter,
		Sort:       q.Sort,
		Page:       q.Page,
		Attributes: q.Attributes,
	}

	if s.opts.Pushdown {
		if attr, ok := q.Filter.(*scim.AttributeExpression); ok && attr.Operator == "eq" && !attr.Present {
			resources = scim.FilterResources(resources, attr)
			residual.Filter = nil
		}
	}

	return service.QueryResult{
		Resources:    resources,
		TotalResults: len(resources),
		Residual:     residual,
	}, nil
}

func (s *Store) CreateResource(ctx context.Context, resource scim.Resource) (scim.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := scim.CloneResource(resource)

	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	} else if _, taken := s.docs[id]; taken {
		return nil, scim.ErrConflict(fmt.Sprintf("%s with id %q already exists", s.resourceType, id))
	}
	doc["id"] = id

	if err := s.checkUnique(doc, id); err != nil {
		return nil, err
	}

	now := s.now().UTC().Format(time.RFC3339)
	s.versions[id] = 1
	doc["meta"] = map[string]any{
		"resourceType": s.resourceType,
		"created":      now,
		"lastModified": now,
		"version":      versionTag(1),
	}

	s.docs[id] = doc
	s.order = append(s.order, id)
	return scim.CloneResource(doc), nil
}

func (s *Store) UpdateResource(ctx context.Context, id string, resource scim.Resource) (scim.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[id]
	if !ok {
		return nil, scim.ErrNotFound(s.resourceType, id)
	}

	doc := scim.CloneResource(resource)
	doc["id"] = id

	if err := s.checkUnique(doc, id); err != nil {
		return nil, err
	}

	version := s.versions[id] + 1
	s.versions[id] = version

	created := ""
	if meta, ok := current["meta"].(map[string]any); ok {
		created, _ = meta["created"].(string)
	}
	doc["meta"] = map[string]any{
		"resourceType": s.resourceType,
		"created":      created,
		"lastModified": s.now().UTC().Format(time.RFC3339),
		"version":      versionTag(version),
	}

	s.docs[id] = doc
	return scim.CloneResource(doc), nil
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return scim.ErrNotFound(s.resourceType, id)
	}
	delete(s.docs, id)
	delete(s.versions, id)
	for i, stored := range s.order {
		if stored == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// checkUnique enforces the configured unique attribute against every
// stored document except the one being written. Caller holds the lock.
func (s *Store) checkUnique(doc scim.Resource, id string) error {
	attr := s.opts.UniqueAttribute
	if attr == "" {
		return nil
	}
	value := stringAttr(doc, attr)
	if value == "" {
		return nil
	}
	for storedID, stored := range s.docs {
		if storedID == id {
			continue
		}
		if strings.EqualFold(stringAttr(stored, attr), value) {
			return scim.ErrUniqueness(fmt.Sprintf("%s %q is already taken", attr, value))
		}
	}
	return nil
}

func stringAttr(doc scim.Resource, name string) string {
	for key, value := range doc {
		if strings.EqualFold(key, name) {
			str, _ := value.(string)
			return str
		}
	}
	return ""
}

func versionTag(n int) string {
	return fmt.Sprintf("W/\"%d\"", n)
}
