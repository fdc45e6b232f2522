// Package mongo stores SCIM resources in a MongoDB collection, pushing
// equality and presence filters, sorting and pagination down to the
// database and reporting the rest as residual work.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
)

// Options tunes an Adapter.
type Options struct {
	// UniqueAttribute gets a unique index from EnsureIndexes
	// ("userName" for Users). Empty disables it.
	UniqueAttribute string

	// Clock overrides time.Now for deterministic meta timestamps.
	Clock func() time.Time
}

// Adapter implements the storage contract on a MongoDB collection.
// Documents are stored with the resource id as _id and an internal
// _version revision counter.
type Adapter struct {
	resourceType string
	collection   *mongo.Collection
	opts         Options
	now          func() time.Time
}

var _ service.Adapter = (*Adapter)(nil)

// NewAdapter wraps a collection as an adapter for resourceType.
func NewAdapter(resourceType string, collection *mongo.Collection, opts Options) *Adapter {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		resourceType: resourceType,
		collection:   collection,
		opts:         opts,
		now:          now,
	}
}

// EnsureIndexes creates the unique index backing the configured unique
// attribute. Call once at startup.
func (a *Adapter) EnsureIndexes(ctx context.Context) error {
	attr := a.opts.UniqueAttribute
	if attr == "" {
		return nil
	}
	field, ok := canonicalFields[strings.ToLower(attr)]
	if !ok {
		field = attr
	}
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: true}}}}),
	})
	if err != nil {
		return fmt.Errorf("create %s index: %w", field, err)
	}
	return nil
}

func (a *Adapter) GetResource(ctx context.Context, id string, _ *scim.AttributeSelection) (scim.Resource, error) {
	var doc bson.M
	err := a.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, scim.ErrNotFound(a.resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", a.resourceType, id, err)
	}
	return fromStored(doc), nil
}

func (a *Adapter) QueryResources(ctx context.Context, q service.Query) (service.QueryResult, error) {
	pushed, residualFilter := translateFilter(q.Filter)
	predicate := bson.D{}
	if len(pushed) > 0 {
		predicate = pushed
	}

	residual := service.Residual{
		Filter:     residualFilter,
		Attributes: q.Attributes,
	}

	findOpts := options.Find()

	residualSort := q.Sort
	if q.Sort != nil && residualFilter == nil {
		if field, ok := canonicalFields[strings.ToLower(q.Sort.By)]; ok {
			direction := 1
			if strings.EqualFold(q.Sort.Order, "descending") {
				direction = -1
			}
			findOpts.SetSort(bson.D{{Key: field, Value: direction}})
			residualSort = nil
		}
	}
	residual.Sort = residualSort

	// Pagination is pushed only when filtering and sorting completed
	// natively; a partial filter makes skip/limit meaningless.
	total := -1
	if residualFilter == nil && residualSort == nil && q.Page != nil {
		count, err := a.collection.CountDocuments(ctx, predicate)
		if err != nil {
			return service.QueryResult{}, fmt.Errorf("count %s resources: %w", a.resourceType, err)
		}
		total = int(count)
		skip, limit, empty := pagePushdown(q.Page)
		if empty {
			return service.QueryResult{
				Resources:    []scim.Resource{},
				TotalResults: total,
				Residual:     residual,
			}, nil
		}
		if skip > 0 {
			findOpts.SetSkip(skip)
		}
		if limit > 0 {
			findOpts.SetLimit(limit)
		}
	} else {
		residual.Page = q.Page
	}

	cursor, err := a.collection.Find(ctx, predicate, findOpts)
	if err != nil {
		return service.QueryResult{}, fmt.Errorf("query %s resources: %w", a.resourceType, err)
	}
	defer cursor.Close(ctx)

	var resources []scim.Resource
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return service.QueryResult{}, fmt.Errorf("decode %s resource: %w", a.resourceType, err)
		}
		resources = append(resources, fromStored(doc))
	}
	if err := cursor.Err(); err != nil {
		return service.QueryResult{}, fmt.Errorf("iterate %s resources: %w", a.resourceType, err)
	}

	if total < 0 {
		total = len(resources)
	}
	return service.QueryResult{
		Resources:    resources,
		TotalResults: total,
		Residual:     residual,
	}, nil
}

// pagePushdown maps a page spec onto Find skip and limit values. A
// returned limit of zero means no limit is set. empty reports a
// zero-count page, which is answered from CountDocuments alone because
// the driver reads SetLimit(0) as unlimited.
func pagePushdown(page *service.PageSpec) (skip, limit int64, empty bool) {
	if page.Count == 0 {
		return 0, 0, true
	}
	if page.StartIndex > 1 {
		skip = int64(page.StartIndex - 1)
	}
	if page.Count > 0 {
		limit = int64(page.Count)
	}
	return skip, limit, false
}

func (a *Adapter) CreateResource(ctx context.Context, resource scim.Resource) (scim.Resource, error) {
	doc := scim.CloneResource(resource)

	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	doc["id"] = id

	now := a.now().UTC().Format(time.RFC3339)
	doc["meta"] = map[string]any{
		"resourceType": a.resourceType,
		"created":      now,
		"lastModified": now,
		"version":      versionTag(1),
	}

	if _, err := a.collection.InsertOne(ctx, toStored(doc, 1)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, scim.ErrConflict(fmt.Sprintf("%s conflicts with an existing resource", a.resourceType))
		}
		return nil, fmt.Errorf("insert %s: %w", a.resourceType, err)
	}
	return doc, nil
}

func (a *Adapter) UpdateResource(ctx context.Context, id string, resource scim.Resource) (scim.Resource, error) {
	var stored bson.M
	err := a.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return nil, scim.ErrNotFound(a.resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", a.resourceType, id, err)
	}

	version := storedVersion(stored) + 1
	created := ""
	if meta, ok := normalizeBSON(stored["meta"]).(map[string]any); ok {
		created, _ = meta["created"].(string)
	}

	doc := scim.CloneResource(resource)
	doc["id"] = id
	doc["meta"] = map[string]any{
		"resourceType": a.resourceType,
		"created":      created,
		"lastModified": a.now().UTC().Format(time.RFC3339),
		"version":      versionTag(version),
	}

	_, err = a.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, toStored(doc, version))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, scim.ErrConflict(fmt.Sprintf("%s conflicts with an existing resource", a.resourceType))
		}
		return nil, fmt.Errorf("replace %s %s: %w", a.resourceType, id, err)
	}
	return doc, nil
}

func (a *Adapter) DeleteResource(ctx context.Context, id string) error {
	result, err := a.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", a.resourceType, id, err)
	}
	if result.DeletedCount == 0 {
		return scim.ErrNotFound(a.resourceType, id)
	}
	return nil
}

// toStored maps a resource to its collection document: id moves to _id
// and the revision counter rides along as _version.
func toStored(doc scim.Resource, version int) bson.M {
	stored := make(bson.M, len(doc)+1)
	for key, value := range doc {
		if key == "id" {
			continue
		}
		stored[key] = value
	}
	stored["_id"] = doc["id"]
	stored["_version"] = version
	return stored
}

func fromStored(stored bson.M) scim.Resource {
	doc := make(scim.Resource, len(stored))
	for key, value := range stored {
		switch key {
		case "_id":
			doc["id"] = value
		case "_version":
		default:
			doc[key] = normalizeBSON(value)
		}
	}
	return doc
}

func storedVersion(stored bson.M) int {
	switch v := stored["_version"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// normalizeBSON rewrites driver types into the plain JSON shapes the
// rest of the engine works with.
func normalizeBSON(value any) any {
	switch v := value.(type) {
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeBSON(item)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, elem := range v {
			out[elem.Key] = normalizeBSON(elem.Value)
		}
		return out
	case int32:
		return int64(v)
	default:
		return value
	}
}

func versionTag(n int) string {
	return fmt.Sprintf("W/\"%d\"", n)
}
