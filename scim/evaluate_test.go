package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() Resource {
	return Resource{
		"schemas":  []any{SchemaUser},
		"id":       "2819c223",
		"userName": "bjensen",
		"active":   true,
		"title":    "",
		"name": map[string]any{
			"familyName": "Jensen",
			"givenName":  "Barbara",
		},
		"emails": []any{
			map[string]any{"value": "bjensen@example.com", "type": "work", "primary": true},
			map[string]any{"value": "babs@jensen.org", "type": "home"},
		},
		"meta": map[string]any{
			"created":      "2024-01-15T10:00:00Z",
			"lastModified": "2024-03-01T09:30:00Z",
		},
		"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User": map[string]any{
			"department": "Engineering",
			"manager":    map[string]any{"value": "9067729b"},
		},
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"eq match", `userName eq "bjensen"`, true},
		{"eq mismatch", `userName eq "jsmith"`, false},
		{"eq is case sensitive on values", `userName eq "BJENSEN"`, false},
		{"eq on case-insensitive attribute name", `USERNAME eq "bjensen"`, true},
		{"ne", `userName ne "jsmith"`, true},
		{"co", `userName co "jens"`, true},
		{"sw", `userName sw "bj"`, true},
		{"sw mismatch", `userName sw "j"`, false},
		{"ew", `userName ew "sen"`, true},
		{"boolean eq", "active eq true", true},
		{"null eq on absent attribute", "missing eq null", true},
		{"null eq on present attribute", "userName eq null", false},
		{"pr on present", "userName pr", true},
		{"pr on absent", "missing pr", false},
		{"pr on empty string", "title pr", false},
		{"pr on non-empty array", "emails pr", true},
		{"sub-attribute", `name.familyName eq "Jensen"`, true},
		{"date ordering gt", `meta.lastModified gt "2024-02-01T00:00:00Z"`, true},
		{"date ordering lt", `meta.created lt "2024-02-01T00:00:00Z"`, true},
		{"string ordering", `userName gt "a"`, true},
		{"ordering on mixed types is false", "userName gt 5", false},
		{"and", `userName sw "bj" and active eq true`, true},
		{"and short-circuit false", `userName sw "x" and active eq true`, false},
		{"or", `userName eq "jsmith" or active eq true`, true},
		{"not", `not (userName eq "jsmith")`, true},
		{"multi-valued sub-attribute comparison", `emails.value co "example.com"`, true},
		{"value path match", `emails[type eq "work"]`, true},
		{"value path mismatch", `emails[type eq "other"]`, false},
		{"value path conjunction", `emails[type eq "work" and primary eq true]`, true},
		{"value path on scalar is false", `userName[type eq "work"]`, false},
		{"extension attribute", `urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:department eq "Engineering"`, true},
		{"extension sub-attribute", `urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:manager.value eq "9067729b"`, true},
		{"extension absent", `urn:example:missing:2.0:User:department pr`, false},
	}

	user := testUser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseFilter(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Matches(expr, user))
		})
	}
}

func TestMatchesNumericCrossType(t *testing.T) {
	doc := Resource{"loginCount": float64(3)}

	expr, err := ParseFilter("loginCount eq 3")
	require.NoError(t, err)
	assert.True(t, Matches(expr, doc), "int64 literal must equal float64 document value")

	expr, err = ParseFilter("loginCount gt 2")
	require.NoError(t, err)
	assert.True(t, Matches(expr, doc))
}

func TestFilterResources(t *testing.T) {
	resources := []Resource{
		{"userName": "alice", "active": true},
		{"userName": "bob", "active": false},
		{"userName": "carol", "active": true},
	}

	expr, err := ParseFilter("active eq true")
	require.NoError(t, err)

	got := FilterResources(resources, expr)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0]["userName"])
	assert.Equal(t, "carol", got[1]["userName"])

	assert.Equal(t, resources, FilterResources(resources, nil))
}

func TestMatchesDoesNotMutateExpression(t *testing.T) {
	expr, err := ParseFilter(`emails[type eq "work"] and userName pr`)
	require.NoError(t, err)
	before := expr.String()

	Matches(expr, testUser())
	Matches(expr, Resource{})

	assert.Equal(t, before, expr.String())
}
