package scimcore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
)

const contentTypeSCIM = "application/scim+json"

// Router builds the RFC 7644 HTTP surface. Mount it under the SCIM
// prefix of your server, e.g. http.Handle("/scim/v2/", http.StripPrefix(...)).
func (e *Engine) Router() http.Handler {
	router := httprouter.New()

	router.GET("/ServiceProviderConfig", e.handleServiceProviderConfig)
	router.GET("/ResourceTypes", e.handleResourceTypes)
	router.GET("/ResourceTypes/:id", e.handleResourceType)
	router.GET("/Schemas", e.handleSchemas)
	router.GET("/Schemas/:id", e.handleSchema)

	e.registerResourceRoutes(router, "Users", func() *service.ResourceService { return e.users })
	e.registerResourceRoutes(router, "Groups", func() *service.ResourceService { return e.groups })

	router.POST("/Bulk", e.handleBulk)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.writeError(w, scim.NewError(http.StatusNotFound, fmt.Sprintf("no resource at %s", r.URL.Path), ""))
	})

	return e.requestLogger(router)
}

// registerResourceRoutes wires the CRUD surface for one resource type.
// The service is resolved per request so an absent group adapter
// consistently answers 501.
func (e *Engine) registerResourceRoutes(router *httprouter.Router, name string, svc func() *service.ResourceService) {
	resolve := func(w http.ResponseWriter) *service.ResourceService {
		s := svc()
		if s == nil {
			e.writeError(w, scim.ErrNotImplemented(name))
		}
		return s
	}

	router.GET("/"+name, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if s := resolve(w); s != nil {
			e.list(w, r, s, r.URL.Query())
		}
	})
	router.POST("/"+name, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if s := resolve(w); s != nil {
			e.create(w, r, s, name)
		}
	})
	router.POST("/"+name+"/.search", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if s := resolve(w); s != nil {
			e.search(w, r, s)
		}
	})
	router.GET("/"+name+"/:id", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if s := resolve(w); s != nil {
			e.get(w, r, s, p.ByName("id"))
		}
	})
	router.PUT("/"+name+"/:id", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if s := resolve(w); s != nil {
			e.replace(w, r, s, p.ByName("id"))
		}
	})
	router.PATCH("/"+name+"/:id", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if s := resolve(w); s != nil {
			e.patch(w, r, s, p.ByName("id"))
		}
	})
	router.DELETE("/"+name+"/:id", func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if s := resolve(w); s != nil {
			e.remove(w, r, s, p.ByName("id"))
		}
	})
}

func (e *Engine) handleServiceProviderConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	e.writeJSON(w, http.StatusOK, scim.GetServiceProviderConfig(e.discovery))
}

func (e *Engine) handleResourceTypes(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	types := scim.GetResourceTypes(e.discovery)
	e.writeJSON(w, http.StatusOK, listEnvelope(types))
}

func (e *Engine) handleResourceType(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	for _, rt := range scim.GetResourceTypes(e.discovery) {
		if rt.ID == id {
			e.writeJSON(w, http.StatusOK, rt)
			return
		}
	}
	e.writeError(w, scim.ErrNotFound("ResourceType", id))
}

func (e *Engine) handleSchemas(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	e.writeJSON(w, http.StatusOK, listEnvelope(scim.GetSchemas(e.discovery)))
}

func (e *Engine) handleSchema(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if schema := scim.GetSchemaByID(e.discovery, id); schema != nil {
		e.writeJSON(w, http.StatusOK, schema)
		return
	}
	e.writeError(w, scim.ErrNotFound("Schema", id))
}

func (e *Engine) list(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, values url.Values) {
	params, err := scim.ParseQueryParams(values)
	if err != nil {
		e.writeError(w, err)
		return
	}
	response, err := svc.List(r.Context(), params)
	if err != nil {
		e.writeError(w, err)
		return
	}
	e.writeJSON(w, http.StatusOK, response)
}

func (e *Engine) search(w http.ResponseWriter, r *http.Request, svc *service.ResourceService) {
	var req scim.SearchRequest
	if err := e.decodeBody(w, r, &req); err != nil {
		e.writeError(w, err)
		return
	}
	e.list(w, r, svc, searchValues(&req))
}

func (e *Engine) get(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, id string) {
	params, err := scim.ParseQueryParams(r.URL.Query())
	if err != nil {
		e.writeError(w, err)
		return
	}
	attrs := scim.NewAttributeSelection(params.Attributes, params.ExcludedAttr)
	doc, err := svc.Get(r.Context(), id, attrs)
	if err != nil {
		e.writeError(w, err)
		return
	}
	e.writeJSON(w, http.StatusOK, doc)
}

func (e *Engine) create(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, name string) {
	var doc scim.Resource
	if err := e.decodeBody(w, r, &doc); err != nil {
		e.writeError(w, err)
		return
	}
	created, err := svc.Create(r.Context(), doc)
	if err != nil {
		e.writeError(w, err)
		return
	}
	if id, ok := created["id"].(string); ok {
		w.Header().Set("Location", fmt.Sprintf("%s/%s/%s", e.baseURL, name, id))
	}
	e.writeJSON(w, http.StatusCreated, created)
}

func (e *Engine) replace(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, id string) {
	var doc scim.Resource
	if err := e.decodeBody(w, r, &doc); err != nil {
		e.writeError(w, err)
		return
	}
	updated, err := svc.Update(r.Context(), id, doc)
	if err != nil {
		e.writeError(w, err)
		return
	}
	e.writeJSON(w, http.StatusOK, updated)
}

func (e *Engine) patch(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, id string) {
	var patch scim.PatchOp
	if err := e.decodeBody(w, r, &patch); err != nil {
		e.writeError(w, err)
		return
	}
	patched, err := svc.Patch(r.Context(), id, &patch)
	if err != nil {
		e.writeError(w, err)
		return
	}
	e.writeJSON(w, http.StatusOK, patched)
}

func (e *Engine) remove(w http.ResponseWriter, r *http.Request, svc *service.ResourceService, id string) {
	if err := svc.Delete(r.Context(), id); err != nil {
		e.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleBulk(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if e.bulk == nil {
		e.writeError(w, scim.ErrNotImplemented("bulk operations"))
		return
	}
	var req scim.BulkRequest
	if err := e.decodeBody(w, r, &req); err != nil {
		e.writeError(w, err)
		return
	}
	response, err := e.bulk.Process(r.Context(), &req)
	if err != nil {
		e.writeError(w, err)
		return
	}
	e.writeJSON(w, http.StatusOK, response)
}

// decodeBody parses a JSON request body into v, enforcing the payload
// size limit.
func (e *Engine) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, int64(e.maxPayloadSize))
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return scim.ErrInvalidSyntax(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (e *Engine) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeSCIM)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.log.Error().Err(err).Msg("failed to encode response body")
	}
}

func (e *Engine) writeError(w http.ResponseWriter, err error) {
	scimErr := scim.AsError(err, "request failed")
	if scimErr.Status >= http.StatusInternalServerError {
		e.log.Error().Int("status", scimErr.Status).Str("detail", scimErr.Detail).Msg("request failed")
	}
	e.writeJSON(w, scimErr.Status, scimErr.Response())
}

// searchValues maps a SearchRequest envelope onto the query string
// shape so both entry points share one parsing path. A zero count is
// treated as absent; the envelope cannot express an explicit zero.
func searchValues(req *scim.SearchRequest) url.Values {
	values := url.Values{}
	if req.Filter != "" {
		values.Set("filter", req.Filter)
	}
	if len(req.Attributes) > 0 {
		values.Set("attributes", strings.Join(req.Attributes, ","))
	}
	if len(req.ExcludedAttributes) > 0 {
		values.Set("excludedAttributes", strings.Join(req.ExcludedAttributes, ","))
	}
	if req.SortBy != "" {
		values.Set("sortBy", req.SortBy)
	}
	if req.SortOrder != "" {
		values.Set("sortOrder", req.SortOrder)
	}
	if req.StartIndex > 0 {
		values.Set("startIndex", strconv.Itoa(req.StartIndex))
	}
	if req.Count > 0 {
		values.Set("count", strconv.Itoa(req.Count))
	}
	return values
}

// listEnvelope wraps discovery documents in the ListResponse shape.
func listEnvelope[T any](items []T) scim.ListResponse[T] {
	return scim.ListResponse[T]{
		Schemas:      []string{scim.SchemaListResponse},
		TotalResults: len(items),
		StartIndex:   1,
		ItemsPerPage: len(items),
		Resources:    items,
	}
}
