package sync_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelom97/scimcore"
	"github.com/marcelom97/scimcore/memory"
	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
	"github.com/marcelom97/scimcore/sync"
)

type endpoint struct {
	server *httptest.Server
	users  *service.ResourceService
}

func newEndpoint(t *testing.T) endpoint {
	t.Helper()
	engine := scimcore.New(scimcore.Options{
		UserAdapter:      memory.NewStore("User", memory.Options{UniqueAttribute: "userName"}),
		BaseURL:          "http://sync.test/scim/v2",
		MaxFilterResults: 200,
	})
	server := httptest.NewServer(engine.Router())
	t.Cleanup(server.Close)
	return endpoint{server: server, users: engine.Users()}
}

func seedUser(t *testing.T, ep endpoint, doc scim.Resource) scim.Resource {
	t.Helper()
	created, err := ep.users.Create(context.Background(), doc)
	require.NoError(t, err)
	return created
}

func listUserNames(t *testing.T, ep endpoint) map[string]scim.Resource {
	t.Helper()
	response, err := ep.users.List(context.Background(), scim.QueryParams{StartIndex: 1, Count: -1})
	require.NoError(t, err)
	out := make(map[string]scim.Resource)
	for _, doc := range response.Resources {
		out[doc["userName"].(string)] = doc
	}
	return out
}

func newSyncer(source, target endpoint, opts sync.Options) *sync.Syncer {
	opts.Logger = zerolog.Nop()
	return sync.NewSyncer(
		sync.NewClient(source.server.URL, ""),
		sync.NewClient(target.server.URL, ""),
		opts,
	)
}

func TestSyncerCreatesAndUpdates(t *testing.T) {
	source := newEndpoint(t)
	target := newEndpoint(t)

	seedUser(t, source, scim.Resource{"userName": "alice", "title": "Engineer"})
	seedUser(t, source, scim.Resource{"userName": "bob"})
	seedUser(t, target, scim.Resource{"userName": "alice", "title": "Outdated"})

	stats, err := newSyncer(source, target, sync.Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 0, stats.Deleted)

	targetUsers := listUserNames(t, target)
	require.Len(t, targetUsers, 2)
	assert.Equal(t, "Engineer", targetUsers["alice"]["title"], "existing user replaced with source state")
	assert.Contains(t, targetUsers, "bob")
}

func TestSyncerPagesThroughSource(t *testing.T) {
	source := newEndpoint(t)
	target := newEndpoint(t)

	for i := 0; i < 7; i++ {
		seedUser(t, source, scim.Resource{"userName": fmt.Sprintf("user%02d", i)})
	}

	stats, err := newSyncer(source, target, sync.Options{PageSize: 3, Concurrency: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Created)
	assert.Len(t, listUserNames(t, target), 7)
}

func TestSyncerDeleteOrphans(t *testing.T) {
	source := newEndpoint(t)
	target := newEndpoint(t)

	seedUser(t, source, scim.Resource{"userName": "alice"})
	seedUser(t, target, scim.Resource{"userName": "alice"})
	seedUser(t, target, scim.Resource{"userName": "ghost1"})
	seedUser(t, target, scim.Resource{"userName": "ghost2"})

	t.Run("disabled keeps orphans", func(t *testing.T) {
		stats, err := newSyncer(source, target, sync.Options{}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Deleted)
		assert.Len(t, listUserNames(t, target), 3)
	})

	t.Run("enabled removes orphans", func(t *testing.T) {
		stats, err := newSyncer(source, target, sync.Options{DeleteOrphans: true}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Deleted)

		remaining := listUserNames(t, target)
		require.Len(t, remaining, 1)
		assert.Contains(t, remaining, "alice")
	})
}

func TestSyncerTargetIDsAreLocal(t *testing.T) {
	source := newEndpoint(t)
	target := newEndpoint(t)

	created := seedUser(t, source, scim.Resource{"userName": "alice"})

	_, err := newSyncer(source, target, sync.Options{}).Run(context.Background())
	require.NoError(t, err)

	targetUsers := listUserNames(t, target)
	assert.NotEqual(t, created["id"], targetUsers["alice"]["id"], "target assigns its own ids")
}
