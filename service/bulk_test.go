package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelom97/scimcore/memory"
	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
)

func newDispatcher(t *testing.T, withGroups bool) (*service.BulkDispatcher, *service.ResourceService) {
	t.Helper()
	users := service.NewResourceService("User", scim.SchemaUser,
		memory.NewStore("User", memory.Options{UniqueAttribute: "userName"}),
		service.Options{RequiredAttributes: []string{"userName"}, Logger: zerolog.Nop()})

	var groups *service.ResourceService
	if withGroups {
		groups = service.NewResourceService("Group", scim.SchemaGroup,
			memory.NewStore("Group", memory.Options{}),
			service.Options{RequiredAttributes: []string{"displayName"}, Logger: zerolog.Nop()})
	}

	return service.NewBulkDispatcher(users, groups, service.BulkOptions{
		BaseURL: "https://example.com/scim/v2",
		Logger:  zerolog.Nop(),
	}), users
}

func bulkRequest(failOnErrors int, ops ...scim.BulkOperation) *scim.BulkRequest {
	return &scim.BulkRequest{
		Schemas:      []string{scim.SchemaBulkRequest},
		FailOnErrors: failOnErrors,
		Operations:   ops,
	}
}

func TestBulkRequiresEnvelopeSchema(t *testing.T) {
	dispatcher, _ := newDispatcher(t, false)
	_, err := dispatcher.Process(context.Background(), &scim.BulkRequest{
		Schemas: []string{scim.SchemaUser},
	})
	var scimErr *scim.Error
	require.ErrorAs(t, err, &scimErr)
	assert.Equal(t, scim.ScimTypeInvalidValue, scimErr.ScimType)
}

func TestBulkMixedOperations(t *testing.T) {
	ctx := context.Background()
	dispatcher, users := newDispatcher(t, false)

	seeded, err := users.Create(ctx, scim.Resource{"userName": "existing"})
	require.NoError(t, err)
	seededID := seeded["id"].(string)

	response, err := dispatcher.Process(ctx, bulkRequest(0,
		scim.BulkOperation{Method: "POST", Path: "/Users", BulkID: "new1",
			Data: map[string]any{"userName": "created"}},
		scim.BulkOperation{Method: "PUT", Path: "/Users/" + seededID,
			Data: map[string]any{"userName": "existing", "title": "Replaced"}},
		scim.BulkOperation{Method: "PATCH", Path: "/Users/" + seededID,
			Data: map[string]any{
				"schemas":    []any{scim.SchemaPatchOp},
				"Operations": []any{map[string]any{"op": "add", "path": "nickName", "value": "ace"}},
			}},
		scim.BulkOperation{Method: "DELETE", Path: "/Users/" + seededID},
	))
	require.NoError(t, err)
	require.Len(t, response.Operations, 4)
	assert.Equal(t, []string{scim.SchemaBulkResponse}, response.Schemas)

	post := response.Operations[0]
	assert.Equal(t, "201", post.Status)
	assert.Equal(t, "new1", post.BulkID)
	assert.Contains(t, post.Location, "https://example.com/scim/v2/Users/")

	assert.Equal(t, "200", response.Operations[1].Status)
	assert.Equal(t, "200", response.Operations[2].Status)
	assert.Equal(t, "204", response.Operations[3].Status)
}

func TestBulkPathValidation(t *testing.T) {
	ctx := context.Background()
	dispatcher, _ := newDispatcher(t, false)

	response, err := dispatcher.Process(ctx, bulkRequest(0,
		scim.BulkOperation{Method: "POST", Path: "/Unknown", Data: map[string]any{"userName": "x"}},
		scim.BulkOperation{Method: "POST", Path: "/Users/some-id", Data: map[string]any{"userName": "x"}},
		scim.BulkOperation{Method: "PUT", Path: "/Users", Data: map[string]any{"userName": "x"}},
		scim.BulkOperation{Method: "DELETE", Path: "/Users"},
		scim.BulkOperation{Method: "TRACE", Path: "/Users"},
	))
	require.NoError(t, err)
	for i, op := range response.Operations {
		assert.Equal(t, "400", op.Status, "operation %d", i)
	}
}

func TestBulkGroupsAbsent(t *testing.T) {
	dispatcher, _ := newDispatcher(t, false)
	response, err := dispatcher.Process(context.Background(), bulkRequest(0,
		scim.BulkOperation{Method: "POST", Path: "/Groups", Data: map[string]any{"displayName": "Tour Guides"}},
	))
	require.NoError(t, err)
	assert.Equal(t, "501", response.Operations[0].Status)
}

func TestBulkGroupsPresent(t *testing.T) {
	dispatcher, _ := newDispatcher(t, true)
	response, err := dispatcher.Process(context.Background(), bulkRequest(0,
		scim.BulkOperation{Method: "POST", Path: "/Groups", Data: map[string]any{"displayName": "Tour Guides"}},
	))
	require.NoError(t, err)
	assert.Equal(t, "201", response.Operations[0].Status)
}

func TestBulkFailOnErrors(t *testing.T) {
	ctx := context.Background()
	dispatcher, _ := newDispatcher(t, false)

	ops := []scim.BulkOperation{
		{Method: "POST", Path: "/Users", Data: map[string]any{"userName": "ok1"}},
		{Method: "POST", Path: "/Users", Data: map[string]any{"title": "missing userName"}},
		{Method: "POST", Path: "/Users", Data: map[string]any{"userName": "ok2"}},
		{Method: "POST", Path: "/Users", Data: map[string]any{"noUserName": true}},
		{Method: "POST", Path: "/Users", Data: map[string]any{"userName": "ok3"}},
	}

	t.Run("stops at the threshold", func(t *testing.T) {
		response, err := dispatcher.Process(ctx, bulkRequest(2, ops...))
		require.NoError(t, err)
		assert.Len(t, response.Operations, 4, "processing stops after the second error")
	})

	t.Run("zero means continue through errors", func(t *testing.T) {
		dispatcher, _ := newDispatcher(t, false)
		response, err := dispatcher.Process(ctx, bulkRequest(0, ops...))
		require.NoError(t, err)
		assert.Len(t, response.Operations, 5)
	})
}

func TestBulkMaxOperations(t *testing.T) {
	dispatcher, _ := newDispatcher(t, false)
	require.Equal(t, service.DefaultMaxBulkOperations, dispatcher.MaxOperations())

	ops := make([]scim.BulkOperation, service.DefaultMaxBulkOperations+1)
	for i := range ops {
		ops[i] = scim.BulkOperation{Method: "POST", Path: "/Users",
			Data: map[string]any{"userName": fmt.Sprintf("u%d", i)}}
	}

	_, err := dispatcher.Process(context.Background(), bulkRequest(0, ops...))
	var scimErr *scim.Error
	require.ErrorAs(t, err, &scimErr)
	assert.Equal(t, scim.ScimTypeInvalidValue, scimErr.ScimType)
}

func TestBulkIDResolution(t *testing.T) {
	ctx := context.Background()
	dispatcher, users := newDispatcher(t, false)

	response, err := dispatcher.Process(ctx, bulkRequest(0,
		scim.BulkOperation{Method: "POST", Path: "/Users", BulkID: "alice",
			Data: map[string]any{"userName": "alice"}},
		scim.BulkOperation{Method: "PATCH", Path: "/Users/bulkId:alice",
			Data: map[string]any{
				"schemas":    []any{scim.SchemaPatchOp},
				"Operations": []any{map[string]any{"op": "add", "path": "title", "value": "Lead"}},
			}},
	))
	require.NoError(t, err)
	assert.Equal(t, "201", response.Operations[0].Status)
	assert.Equal(t, "200", response.Operations[1].Status)

	created := response.Operations[0].Response.(scim.Resource)
	got, err := users.Get(ctx, created["id"].(string), nil)
	require.NoError(t, err)
	assert.Equal(t, "Lead", got["title"])
}

func TestBulkIDValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate bulkIds", func(t *testing.T) {
		dispatcher, _ := newDispatcher(t, false)
		_, err := dispatcher.Process(ctx, bulkRequest(0,
			scim.BulkOperation{Method: "POST", Path: "/Users", BulkID: "dup", Data: map[string]any{"userName": "a"}},
			scim.BulkOperation{Method: "POST", Path: "/Users", BulkID: "dup", Data: map[string]any{"userName": "b"}},
		))
		var scimErr *scim.Error
		require.ErrorAs(t, err, &scimErr)
		assert.Equal(t, scim.ScimTypeInvalidValue, scimErr.ScimType)
	})

	t.Run("circular references", func(t *testing.T) {
		dispatcher, _ := newDispatcher(t, true)
		_, err := dispatcher.Process(ctx, bulkRequest(0,
			scim.BulkOperation{Method: "POST", Path: "/Groups", BulkID: "g1",
				Data: map[string]any{
					"displayName": "One",
					"members":     []any{map[string]any{"value": "bulkId:g2"}},
				}},
			scim.BulkOperation{Method: "POST", Path: "/Groups", BulkID: "g2",
				Data: map[string]any{
					"displayName": "Two",
					"members":     []any{map[string]any{"value": "bulkId:g1"}},
				}},
		))
		var scimErr *scim.Error
		require.ErrorAs(t, err, &scimErr)
		assert.Equal(t, scim.ScimTypeInvalidValue, scimErr.ScimType)
	})

	t.Run("forward reference without cycle is allowed", func(t *testing.T) {
		dispatcher, _ := newDispatcher(t, true)
		response, err := dispatcher.Process(ctx, bulkRequest(0,
			scim.BulkOperation{Method: "POST", Path: "/Users", BulkID: "u1",
				Data: map[string]any{"userName": "member"}},
			scim.BulkOperation{Method: "POST", Path: "/Groups", BulkID: "g1",
				Data: map[string]any{
					"displayName": "Team",
					"members":     []any{map[string]any{"value": "bulkId:u1"}},
				}},
		))
		require.NoError(t, err)
		assert.Equal(t, "201", response.Operations[0].Status)
		assert.Equal(t, "201", response.Operations[1].Status)

		group := response.Operations[1].Response.(scim.Resource)
		members := group["members"].([]any)
		resolved := members[0].(map[string]any)["value"].(string)
		assert.NotContains(t, resolved, "bulkId:")
	})
}
