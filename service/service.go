package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marcelom97/scimcore/scim"
)

// Options tunes a ResourceService.
type Options struct {
	// MaxFilterResults caps the page size of list responses. Zero means
	// no cap.
	MaxFilterResults int

	// RequiredAttributes must be present and non-empty on create and
	// replace ("userName" for Users, "displayName" for Groups).
	RequiredAttributes []string

	Logger zerolog.Logger
}

// ResourceService implements the SCIM protocol operations for one
// resource type on top of an Adapter. It enforces the single-primary
// rule on multi-valued attributes, scrubs password from every response,
// and finishes residual query work the adapter declined.
type ResourceService struct {
	resourceType string
	baseSchema   string
	adapter      Adapter
	patcher      *scim.PatchProcessor
	opts         Options
	log          zerolog.Logger
}

// NewResourceService builds a service for resourceType ("User" or
// "Group") whose documents carry baseSchema as their primary schema URI.
func NewResourceService(resourceType, baseSchema string, adapter Adapter, opts Options) *ResourceService {
	return &ResourceService{
		resourceType: resourceType,
		baseSchema:   baseSchema,
		adapter:      adapter,
		patcher:      scim.NewPatchProcessor(),
		opts:         opts,
		log:          opts.Logger.With().Str("resourceType", resourceType).Logger(),
	}
}

// ResourceType returns the type this service manages.
func (s *ResourceService) ResourceType() string {
	return s.resourceType
}

// Get fetches one resource by id, with projection applied.
func (s *ResourceService) Get(ctx context.Context, id string, attrs *scim.AttributeSelection) (scim.Resource, error) {
	doc, err := s.adapter.GetResource(ctx, id, attrs)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("get %s %s", s.resourceType, id))
	}
	return attrs.Project(s.prepareResponse(doc)), nil
}

// List runs a filtered, sorted, paginated query and wraps the page in a
// ListResponse envelope. Query work the adapter declines is finished
// here; the requested count is capped by MaxFilterResults.
func (s *ResourceService) List(ctx context.Context, params scim.QueryParams) (*scim.ListResponse[scim.Resource], error) {
	count := params.Count
	if limit := s.opts.MaxFilterResults; limit > 0 && (count < 0 || count > limit) {
		count = limit
	}

	attrs := scim.NewAttributeSelection(params.Attributes, params.ExcludedAttr)
	query := Query{
		Filter:     params.FilterExpr,
		RawFilter:  params.Filter,
		Page:       &PageSpec{StartIndex: params.StartIndex, Count: count},
		Attributes: attrs,
	}
	if params.SortBy != "" {
		query.Sort = &SortSpec{By: params.SortBy, Order: params.SortOrder}
	}

	result, err := s.adapter.QueryResources(ctx, query)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("query %s resources", s.resourceType))
	}

	resources := result.Resources
	total := result.TotalResults

	if residual := result.Residual.Filter; residual != nil {
		resources = scim.FilterResources(resources, residual)
	}
	if residual := result.Residual.Sort; residual != nil {
		resources = scim.SortResources(resources, residual.By, residual.Order)
	}

	startIndex := params.StartIndex
	if page := result.Residual.Page; page != nil {
		total = len(resources)
		resources, startIndex, _ = scim.ApplyPagination(resources, page.StartIndex, page.Count)
	}

	prepared := make([]scim.Resource, len(resources))
	for i, doc := range resources {
		prepared[i] = s.prepareResponse(doc)
	}
	if residual := result.Residual.Attributes; residual != nil {
		prepared = residual.ProjectAll(prepared)
	}

	s.log.Debug().
		Str("filter", params.Filter).
		Int("totalResults", total).
		Int("itemsPerPage", len(prepared)).
		Msg("listed resources")

	return &scim.ListResponse[scim.Resource]{
		Schemas:      []string{scim.SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(prepared),
		Resources:    prepared,
	}, nil
}

// Create validates and stores a new resource.
func (s *ResourceService) Create(ctx context.Context, resource scim.Resource) (scim.Resource, error) {
	doc := scim.CloneResource(resource)
	if err := s.prepareWrite(doc); err != nil {
		return nil, err
	}

	created, err := s.adapter.CreateResource(ctx, doc)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("create %s", s.resourceType))
	}

	s.log.Info().Str("id", resourceID(created)).Msg("created resource")
	return s.prepareResponse(created), nil
}

// Update replaces a stored resource wholesale. The adapter preserves
// id and meta.created and advances meta.version.
func (s *ResourceService) Update(ctx context.Context, id string, resource scim.Resource) (scim.Resource, error) {
	doc := scim.CloneResource(resource)
	if err := s.prepareWrite(doc); err != nil {
		return nil, err
	}

	updated, err := s.adapter.UpdateResource(ctx, id, doc)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("update %s %s", s.resourceType, id))
	}

	s.log.Info().Str("id", id).Msg("replaced resource")
	return s.prepareResponse(updated), nil
}

// Patch applies a PATCH request as a read-modify-write cycle: fetch the
// stored document, apply the operations, store the result. A failing
// operation leaves the stored document untouched.
func (s *ResourceService) Patch(ctx context.Context, id string, patch *scim.PatchOp) (scim.Resource, error) {
	current, err := s.adapter.GetResource(ctx, id, nil)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("get %s %s", s.resourceType, id))
	}

	patched, err := s.patcher.Apply(current, patch)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("patch %s %s", s.resourceType, id))
	}
	enforceSinglePrimary(patched)

	updated, err := s.adapter.UpdateResource(ctx, id, patched)
	if err != nil {
		return nil, scim.AsError(err, fmt.Sprintf("update %s %s", s.resourceType, id))
	}

	s.log.Info().Str("id", id).Int("operations", len(patch.Operations)).Msg("patched resource")
	return s.prepareResponse(updated), nil
}

// Delete removes a resource by id.
func (s *ResourceService) Delete(ctx context.Context, id string) error {
	if err := s.adapter.DeleteResource(ctx, id); err != nil {
		return scim.AsError(err, fmt.Sprintf("delete %s %s", s.resourceType, id))
	}
	s.log.Info().Str("id", id).Msg("deleted resource")
	return nil
}

// prepareWrite normalizes an inbound document before it reaches the
// adapter: the base schema URI is guaranteed present and at most one
// member of each multi-valued attribute stays primary.
func (s *ResourceService) prepareWrite(doc scim.Resource) error {
	for _, attr := range s.opts.RequiredAttributes {
		if !hasNonEmpty(doc, attr) {
			return scim.ErrInvalidValue(fmt.Sprintf("missing required attribute %q", attr))
		}
	}
	ensureSchema(doc, s.baseSchema)
	enforceSinglePrimary(doc)
	return nil
}

// prepareResponse clones a stored document and scrubs write-only
// attributes so they never leave the service.
func (s *ResourceService) prepareResponse(doc scim.Resource) scim.Resource {
	out := scim.CloneResource(doc)
	scrubPassword(out)
	return out
}

func resourceID(doc scim.Resource) string {
	if id, ok := doc["id"].(string); ok {
		return id
	}
	return ""
}

func hasNonEmpty(doc scim.Resource, attr string) bool {
	for key, value := range doc {
		if !strings.EqualFold(key, attr) {
			continue
		}
		if str, ok := value.(string); ok {
			return str != ""
		}
		return value != nil
	}
	return false
}

func ensureSchema(doc scim.Resource, schema string) {
	existing, _ := doc["schemas"].([]any)
	for _, item := range existing {
		if str, ok := item.(string); ok && strings.EqualFold(str, schema) {
			return
		}
	}
	doc["schemas"] = append([]any{schema}, existing...)
}

// enforceSinglePrimary demotes all but the last primary member of every
// top-level multi-valued attribute. Last wins, matching the order the
// client sent.
func enforceSinglePrimary(doc scim.Resource) {
	for _, value := range doc {
		members, ok := value.([]any)
		if !ok {
			continue
		}
		last := -1
		for i, item := range members {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if primary, ok := obj["primary"].(bool); ok && primary {
				last = i
			}
		}
		if last < 0 {
			continue
		}
		for i, item := range members {
			if i == last {
				continue
			}
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if primary, ok := obj["primary"].(bool); ok && primary {
				obj["primary"] = false
			}
		}
	}
}

func scrubPassword(doc scim.Resource) {
	for key := range doc {
		if strings.EqualFold(key, "password") {
			delete(doc, key)
		}
	}
}
