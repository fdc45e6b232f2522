package scimcore_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelom97/scimcore"
	"github.com/marcelom97/scimcore/memory"
	"github.com/marcelom97/scimcore/scim"
)

func newTestServer(t *testing.T, withGroups bool) *httptest.Server {
	t.Helper()

	opts := scimcore.Options{
		UserAdapter:      memory.NewStore("User", memory.Options{UniqueAttribute: "userName"}),
		BaseURL:          "https://example.com/scim/v2",
		MaxFilterResults: 200,
		BulkEnabled:      true,
	}
	if withGroups {
		opts.GroupAdapter = memory.NewStore("Group", memory.Options{})
	}

	server := httptest.NewServer(scimcore.New(opts).Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestServerDiscoveryEndpoints(t *testing.T) {
	server := newTestServer(t, true)

	t.Run("ServiceProviderConfig", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/ServiceProviderConfig", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/scim+json", resp.Header.Get("Content-Type"))
		patch := body["patch"].(map[string]any)
		assert.Equal(t, true, patch["supported"])
	})

	t.Run("ResourceTypes", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/ResourceTypes", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(2), body["totalResults"])
	})

	t.Run("single ResourceType", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/ResourceTypes/User", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "User", body["id"])

		resp, _ = doJSON(t, http.MethodGet, server.URL+"/ResourceTypes/Device", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Schemas", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/Schemas", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(4), body["totalResults"])

		resp, body = doJSON(t, http.MethodGet, server.URL+"/Schemas/"+scim.SchemaUser, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, scim.SchemaUser, body["id"])

		resp, _ = doJSON(t, http.MethodGet, server.URL+"/Schemas/urn:example:unknown", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServerUserLifecycle(t *testing.T) {
	server := newTestServer(t, false)

	resp, created := doJSON(t, http.MethodPost, server.URL+"/Users", map[string]any{
		"userName": "bjensen",
		"password": "secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.Equal(t, "https://example.com/scim/v2/Users/"+id, resp.Header.Get("Location"))
	_, hasPassword := created["password"]
	assert.False(t, hasPassword)

	resp, got := doJSON(t, http.MethodGet, server.URL+"/Users/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bjensen", got["userName"])

	resp, updated := doJSON(t, http.MethodPut, server.URL+"/Users/"+id, map[string]any{
		"userName": "bjensen",
		"title":    "Lead",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Lead", updated["title"])

	resp, patched := doJSON(t, http.MethodPatch, server.URL+"/Users/"+id, map[string]any{
		"schemas": []string{scim.SchemaPatchOp},
		"Operations": []map[string]any{
			{"op": "replace", "path": "title", "value": "Principal"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Principal", patched["title"])

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/Users/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, errBody := doJSON(t, http.MethodGet, server.URL+"/Users/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []any{scim.SchemaError}, errBody["schemas"])
	assert.Equal(t, "404", errBody["status"])
}

func TestServerList(t *testing.T) {
	server := newTestServer(t, false)
	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/Users", map[string]any{
			"userName": fmt.Sprintf("user%d", i),
			"active":   i%2 == 0,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	t.Run("filtered", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet,
			server.URL+"/Users?filter="+strings.ReplaceAll(`active eq true`, " ", "%20"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(3), body["totalResults"])
	})

	t.Run("invalid filter", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/Users?filter=userName%20eq", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalidFilter", body["scimType"])
	})

	t.Run("pagination", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/Users?startIndex=4&count=10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(5), body["totalResults"])
		assert.Equal(t, float64(4), body["startIndex"])
		assert.Equal(t, float64(2), body["itemsPerPage"])
	})

	t.Run("search endpoint", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, server.URL+"/Users/.search", map[string]any{
			"schemas": []string{scim.SchemaSearchRequest},
			"filter":  `active eq true`,
			"count":   2,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(3), body["totalResults"])
		assert.Equal(t, float64(2), body["itemsPerPage"])
	})
}

func TestServerGroupsNotConfigured(t *testing.T) {
	server := newTestServer(t, false)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/Groups", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/Groups", map[string]any{"displayName": "x"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServerBulk(t *testing.T) {
	server := newTestServer(t, false)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/Bulk", map[string]any{
		"schemas": []string{scim.SchemaBulkRequest},
		"Operations": []map[string]any{
			{"method": "POST", "path": "/Users", "bulkId": "q1",
				"data": map[string]any{"userName": "bulk-user"}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ops := body["Operations"].([]any)
	require.Len(t, ops, 1)
	entry := ops[0].(map[string]any)
	assert.Equal(t, "201", entry["status"])
	assert.Contains(t, entry["location"], "/Users/")
}

func TestServerBulkDisabled(t *testing.T) {
	opts := scimcore.Options{
		UserAdapter: memory.NewStore("User", memory.Options{}),
		BaseURL:     "https://example.com/scim/v2",
	}
	server := httptest.NewServer(scimcore.New(opts).Router())
	t.Cleanup(server.Close)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/Bulk", map[string]any{
		"schemas": []string{scim.SchemaBulkRequest},
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServerRejectsMalformedBody(t *testing.T) {
	server := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/Users", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/scim+json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerPayloadLimit(t *testing.T) {
	opts := scimcore.Options{
		UserAdapter:    memory.NewStore("User", memory.Options{}),
		BaseURL:        "https://example.com/scim/v2",
		MaxPayloadSize: 64,
	}
	server := httptest.NewServer(scimcore.New(opts).Router())
	t.Cleanup(server.Close)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/Users", map[string]any{
		"userName": strings.Repeat("x", 256),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerUnknownPath(t *testing.T) {
	server := newTestServer(t, false)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/Devices", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404", body["status"])
}
