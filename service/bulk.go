package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marcelom97/scimcore/scim"
)

// DefaultMaxBulkOperations caps the operations accepted in one bulk
// request when no explicit limit is configured.
const DefaultMaxBulkOperations = 100

var bulkPathRe = regexp.MustCompile(`^/(Users|Groups)(/([^/]+))?$`)

// BulkDispatcher decomposes a bulk request into individual resource
// operations, executes them in order against the registered services,
// and assembles the per-operation responses. Operation failures are
// captured as entries; only a malformed request fails as a whole.
type BulkDispatcher struct {
	users         *ResourceService
	groups        *ResourceService
	maxOperations int
	baseURL       string
	log           zerolog.Logger
}

// BulkOptions tunes a BulkDispatcher.
type BulkOptions struct {
	// MaxOperations caps the operation count per request. Zero means
	// DefaultMaxBulkOperations.
	MaxOperations int

	// BaseURL prefixes the location of created resources.
	BaseURL string

	Logger zerolog.Logger
}

// NewBulkDispatcher builds a dispatcher over the given services. groups
// may be nil, in which case Group operations fail with 501 entries.
func NewBulkDispatcher(users, groups *ResourceService, opts BulkOptions) *BulkDispatcher {
	maxOps := opts.MaxOperations
	if maxOps <= 0 {
		maxOps = DefaultMaxBulkOperations
	}
	return &BulkDispatcher{
		users:         users,
		groups:        groups,
		maxOperations: maxOps,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		log:           opts.Logger,
	}
}

// MaxOperations returns the configured per-request operation limit.
func (d *BulkDispatcher) MaxOperations() int {
	return d.maxOperations
}

// Process executes a bulk request. The returned error is non-nil only
// for request-level failures (bad envelope, too many operations,
// duplicate or circular bulkIds).
func (d *BulkDispatcher) Process(ctx context.Context, req *scim.BulkRequest) (*scim.BulkResponse, error) {
	if !containsSchema(req.Schemas, scim.SchemaBulkRequest) {
		return nil, scim.ErrInvalidValue("bulk request must declare the BulkRequest schema")
	}
	if len(req.Operations) > d.maxOperations {
		return nil, scim.ErrInvalidValue(fmt.Sprintf(
			"bulk request exceeds maxOperations (%d > %d)", len(req.Operations), d.maxOperations))
	}
	if err := validateBulkIDs(req.Operations); err != nil {
		return nil, err
	}

	bulkIDs := make(map[string]string)
	results := make([]scim.BulkOperationResponse, 0, len(req.Operations))
	errorCount := 0

	for i := range req.Operations {
		op := req.Operations[i]
		entry := d.execute(ctx, &op, bulkIDs)
		results = append(results, entry)

		if status, err := strconv.Atoi(entry.Status); err == nil && status >= 400 {
			errorCount++
			if req.FailOnErrors > 0 && errorCount >= req.FailOnErrors {
				d.log.Warn().Int("errors", errorCount).Msg("bulk request hit failOnErrors threshold")
				break
			}
		}
	}

	return &scim.BulkResponse{
		Schemas:    []string{scim.SchemaBulkResponse},
		Operations: results,
	}, nil
}

func (d *BulkDispatcher) execute(ctx context.Context, op *scim.BulkOperation, bulkIDs map[string]string) scim.BulkOperationResponse {
	entry := scim.BulkOperationResponse{
		Method: strings.ToUpper(op.Method),
		BulkID: op.BulkID,
	}

	match := bulkPathRe.FindStringSubmatch(op.Path)
	if match == nil {
		return d.fail(entry, scim.ErrInvalidValue(fmt.Sprintf("invalid bulk operation path %q", op.Path)))
	}
	resourceType, id := match[1], resolveBulkIDRefs(match[3], bulkIDs)

	svc := d.users
	if resourceType == "Groups" {
		svc = d.groups
	}
	if svc == nil {
		return d.fail(entry, scim.ErrNotImplemented(resourceType))
	}

	data := resolveBulkIDValues(op.Data, bulkIDs)

	switch entry.Method {
	case http.MethodPost:
		if id != "" {
			return d.fail(entry, scim.ErrInvalidValue("POST bulk operation path must not include a resource id"))
		}
		doc, ok := asResource(data)
		if !ok {
			return d.fail(entry, scim.ErrInvalidValue("POST bulk operation requires object data"))
		}
		created, err := svc.Create(ctx, doc)
		if err != nil {
			return d.fail(entry, err)
		}
		createdID := resourceID(created)
		if op.BulkID != "" {
			bulkIDs[op.BulkID] = createdID
		}
		entry.Status = strconv.Itoa(http.StatusCreated)
		entry.Location = fmt.Sprintf("%s/%s/%s", d.baseURL, resourceType, createdID)
		entry.Response = created

	case http.MethodPut:
		if id == "" {
			return d.fail(entry, scim.ErrInvalidValue("PUT bulk operation path must include a resource id"))
		}
		doc, ok := asResource(data)
		if !ok {
			return d.fail(entry, scim.ErrInvalidValue("PUT bulk operation requires object data"))
		}
		updated, err := svc.Update(ctx, id, doc)
		if err != nil {
			return d.fail(entry, err)
		}
		entry.Status = strconv.Itoa(http.StatusOK)
		entry.Response = updated

	case http.MethodPatch:
		if id == "" {
			return d.fail(entry, scim.ErrInvalidValue("PATCH bulk operation path must include a resource id"))
		}
		patch, err := asPatchOp(data)
		if err != nil {
			return d.fail(entry, err)
		}
		patched, err := svc.Patch(ctx, id, patch)
		if err != nil {
			return d.fail(entry, err)
		}
		entry.Status = strconv.Itoa(http.StatusOK)
		entry.Response = patched

	case http.MethodDelete:
		if id == "" {
			return d.fail(entry, scim.ErrInvalidValue("DELETE bulk operation path must include a resource id"))
		}
		if err := svc.Delete(ctx, id); err != nil {
			return d.fail(entry, err)
		}
		entry.Status = strconv.Itoa(http.StatusNoContent)

	default:
		return d.fail(entry, scim.ErrInvalidValue(fmt.Sprintf("unsupported bulk operation method %q", op.Method)))
	}

	return entry
}

func (d *BulkDispatcher) fail(entry scim.BulkOperationResponse, err error) scim.BulkOperationResponse {
	scimErr := scim.AsError(err, "bulk operation")
	entry.Status = strconv.Itoa(scimErr.Status)
	entry.Response = scimErr.Response()
	return entry
}

// validateBulkIDs rejects duplicate bulkIds and circular bulkId
// references up front, before any operation executes.
func validateBulkIDs(operations []scim.BulkOperation) error {
	seen := make(map[string]bool)
	for _, op := range operations {
		if op.BulkID == "" {
			continue
		}
		if seen[op.BulkID] {
			return scim.ErrInvalidValue(fmt.Sprintf("duplicate bulkId %q", op.BulkID))
		}
		seen[op.BulkID] = true
	}

	// Dependency edges run from an operation's bulkId to every bulkId
	// its data references.
	graph := make(map[string][]string)
	for _, op := range operations {
		if op.BulkID == "" {
			continue
		}
		refs := make(map[string]bool)
		collectBulkIDRefs(op.Data, refs)
		collectStringRefs(op.Path, refs)
		for ref := range refs {
			if seen[ref] {
				graph[op.BulkID] = append(graph[op.BulkID], ref)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range graph[id] {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}
	for id := range graph {
		if visit(id) {
			return scim.ErrInvalidValue(fmt.Sprintf("circular bulkId reference involving %q", id))
		}
	}
	return nil
}

func collectBulkIDRefs(value any, refs map[string]bool) {
	switch v := value.(type) {
	case string:
		collectStringRefs(v, refs)
	case map[string]any:
		for _, item := range v {
			collectBulkIDRefs(item, refs)
		}
	case []any:
		for _, item := range v {
			collectBulkIDRefs(item, refs)
		}
	}
}

func collectStringRefs(s string, refs map[string]bool) {
	if ref, ok := strings.CutPrefix(s, "bulkId:"); ok && ref != "" {
		refs[ref] = true
	}
}

// resolveBulkIDRefs rewrites a "bulkId:<id>" token to the resource id
// recorded for that bulkId. Unresolved tokens pass through untouched
// and fail later as invalid paths or values.
func resolveBulkIDRefs(s string, bulkIDs map[string]string) string {
	ref, ok := strings.CutPrefix(s, "bulkId:")
	if !ok {
		return s
	}
	if id, ok := bulkIDs[ref]; ok {
		return id
	}
	return s
}

func resolveBulkIDValues(value any, bulkIDs map[string]string) any {
	switch v := value.(type) {
	case string:
		return resolveBulkIDRefs(v, bulkIDs)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = resolveBulkIDValues(item, bulkIDs)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveBulkIDValues(item, bulkIDs)
		}
		return out
	default:
		return value
	}
}

func asResource(data any) (scim.Resource, bool) {
	doc, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	return scim.Resource(doc), true
}

func asPatchOp(data any) (*scim.PatchOp, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, scim.ErrInvalidValue("PATCH bulk operation data is not a valid patch request")
	}
	var patch scim.PatchOp
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, scim.ErrInvalidValue("PATCH bulk operation data is not a valid patch request")
	}
	return &patch, nil
}

func containsSchema(schemas []string, want string) bool {
	for _, schema := range schemas {
		if strings.EqualFold(schema, want) {
			return true
		}
	}
	return false
}
