package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortResources(t *testing.T) {
	resources := []Resource{
		{"userName": "carol"},
		{"userName": "alice"},
		{"id": "no-name"},
		{"userName": "bob"},
	}

	t.Run("ascending puts undefined first", func(t *testing.T) {
		sorted := SortResources(resources, "userName", "ascending")
		assert.Equal(t, "no-name", sorted[0]["id"])
		assert.Equal(t, "alice", sorted[1]["userName"])
		assert.Equal(t, "bob", sorted[2]["userName"])
		assert.Equal(t, "carol", sorted[3]["userName"])
	})

	t.Run("descending reverses the full order", func(t *testing.T) {
		sorted := SortResources(resources, "userName", "descending")
		assert.Equal(t, "carol", sorted[0]["userName"])
		assert.Equal(t, "no-name", sorted[3]["id"])
	})

	t.Run("input is not modified", func(t *testing.T) {
		SortResources(resources, "userName", "ascending")
		assert.Equal(t, "carol", resources[0]["userName"])
	})

	t.Run("dates compare as instants", func(t *testing.T) {
		docs := []Resource{
			{"id": "b", "meta": map[string]any{"created": "2024-02-01T00:00:00Z"}},
			{"id": "a", "meta": map[string]any{"created": "2024-01-15T10:00:00Z"}},
		}
		sorted := SortResources(docs, "meta.created", "ascending")
		assert.Equal(t, "a", sorted[0]["id"])
	})

	t.Run("stable for equal keys", func(t *testing.T) {
		docs := []Resource{
			{"id": "1", "title": "x"},
			{"id": "2", "title": "x"},
		}
		sorted := SortResources(docs, "title", "ascending")
		assert.Equal(t, "1", sorted[0]["id"])
		assert.Equal(t, "2", sorted[1]["id"])
	})
}

func TestApplyPagination(t *testing.T) {
	resources := []Resource{
		{"id": "1"}, {"id": "2"}, {"id": "3"}, {"id": "4"}, {"id": "5"},
	}

	tests := []struct {
		name       string
		startIndex int
		count      int
		wantIDs    []string
		wantStart  int
	}{
		{"full set unbounded", 1, -1, []string{"1", "2", "3", "4", "5"}, 1},
		{"first page", 1, 2, []string{"1", "2"}, 1},
		{"middle page", 3, 2, []string{"3", "4"}, 3},
		{"last partial page", 5, 10, []string{"5"}, 5},
		{"start beyond total", 9, 2, []string{}, 9},
		{"count zero is an empty page", 1, 0, []string{}, 1},
		{"startIndex below one clamps to one", 0, 2, []string{"1", "2"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, start, size := ApplyPagination(resources, tt.startIndex, tt.count)
			require.Len(t, page, len(tt.wantIDs))
			for i, id := range tt.wantIDs {
				assert.Equal(t, id, page[i]["id"])
			}
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, len(tt.wantIDs), size)
		})
	}
}

func TestAttributeSelection(t *testing.T) {
	doc := Resource{
		"schemas":  []any{SchemaUser},
		"id":       "42",
		"userName": "bjensen",
		"title":    "Lead",
		"name": map[string]any{
			"familyName": "Jensen",
			"givenName":  "Barbara",
		},
		"emails": []any{
			map[string]any{"value": "a@x.com", "type": "work"},
		},
		"meta": map[string]any{"resourceType": "User"},
	}

	t.Run("nil selection is identity", func(t *testing.T) {
		assert.Nil(t, NewAttributeSelection(nil, nil))
		var sel *AttributeSelection
		assert.Equal(t, doc, sel.Project(doc))
	})

	t.Run("include keeps core attributes", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"userName"}, nil)
		out := sel.Project(doc)
		assert.Equal(t, "bjensen", out["userName"])
		assert.Equal(t, "42", out["id"])
		assert.NotNil(t, out["schemas"])
		assert.NotNil(t, out["meta"])
		_, hasTitle := out["title"]
		assert.False(t, hasTitle)
	})

	t.Run("include sub-attribute narrows the subtree", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"name.familyName"}, nil)
		out := sel.Project(doc)
		assert.Equal(t, map[string]any{"familyName": "Jensen"}, out["name"])
	})

	t.Run("include applies inside multi-valued attributes", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"emails.value"}, nil)
		out := sel.Project(doc)
		assert.Equal(t, []any{map[string]any{"value": "a@x.com"}}, out["emails"])
	})

	t.Run("broader include wins over narrower", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"name.familyName", "name"}, nil)
		out := sel.Project(doc)
		assert.Equal(t, doc["name"], out["name"])
	})

	t.Run("exclude removes a subtree", func(t *testing.T) {
		sel := NewAttributeSelection(nil, []string{"name.givenName", "emails"})
		out := sel.Project(doc)
		assert.Equal(t, map[string]any{"familyName": "Jensen"}, out["name"])
		_, hasEmails := out["emails"]
		assert.False(t, hasEmails)
		assert.Equal(t, "Lead", out["title"])
	})

	t.Run("case insensitive matching", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"USERNAME"}, nil)
		out := sel.Project(doc)
		assert.Equal(t, "bjensen", out["userName"])
	})

	t.Run("input is not modified", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"userName"}, nil)
		sel.Project(doc)
		assert.Equal(t, "Lead", doc["title"])
	})

	t.Run("ProjectAll", func(t *testing.T) {
		sel := NewAttributeSelection([]string{"userName"}, nil)
		out := sel.ProjectAll([]Resource{doc, doc})
		require.Len(t, out, 2)
		_, hasTitle := out[0]["title"]
		assert.False(t, hasTitle)
	})
}
