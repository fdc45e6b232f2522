package scim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneResource(t *testing.T) {
	original := testUser()
	clone := CloneResource(original)
	require.Equal(t, original, clone)

	clone["userName"] = "changed"
	clone["name"].(map[string]any)["familyName"] = "changed"
	clone["emails"].([]any)[0].(map[string]any)["value"] = "changed"

	assert.Equal(t, "bjensen", original["userName"])
	assert.Equal(t, "Jensen", original["name"].(map[string]any)["familyName"])
	assert.Equal(t, "bjensen@example.com", original["emails"].([]any)[0].(map[string]any)["value"])

	assert.Nil(t, CloneResource(nil))
}

func TestLookupKey(t *testing.T) {
	doc := Resource{"userName": "a", "username": "b"}

	key, value, ok := lookupKey(doc, "userName")
	require.True(t, ok)
	assert.Equal(t, "userName", key, "exact match wins over case-folded match")
	assert.Equal(t, "a", value)

	key, value, ok = lookupKey(doc, "USERNAME")
	require.True(t, ok)
	assert.Contains(t, []string{"userName", "username"}, key)
	assert.NotNil(t, value)

	key, _, ok = lookupKey(Resource{}, "missing")
	assert.False(t, ok)
	assert.Equal(t, "missing", key, "requested casing is echoed for inserts")
}

func TestTypedViewRoundTrip(t *testing.T) {
	user := User{
		Schemas:  []string{SchemaUser},
		UserName: "bjensen",
		Active:   Bool(true),
		Name:     &Name{FamilyName: "Jensen", GivenName: "Barbara"},
		Emails: []Email{
			{Value: "bjensen@example.com", Type: "work", Primary: true},
		},
		EnterpriseUser: &EnterpriseUser{
			Department: "Engineering",
			Manager:    &ManagerRef{Value: "9067729b"},
		},
	}

	doc, err := ToResource(user)
	require.NoError(t, err)
	assert.Equal(t, "bjensen", doc["userName"])

	ext, ok := doc[SchemaEnterpriseUser].(map[string]any)
	require.True(t, ok, "enterprise extension is keyed by its schema URI")
	assert.Equal(t, "Engineering", ext["department"])

	var back User
	require.NoError(t, FromResource(doc, &back))
	assert.Equal(t, user.UserName, back.UserName)
	require.NotNil(t, back.Active)
	assert.True(t, *back.Active)
	require.Len(t, back.Emails, 1)
	assert.True(t, back.Emails[0].Primary)
	require.NotNil(t, back.EnterpriseUser)
	assert.Equal(t, "9067729b", back.EnterpriseUser.Manager.Value)
}

func TestGroupTypedView(t *testing.T) {
	doc := Resource{
		"schemas":     []any{SchemaGroup},
		"id":          "e9e30dba",
		"displayName": "Tour Guides",
		"members": []any{
			map[string]any{"value": "2819c223", "display": "Babs Jensen"},
		},
	}

	var group Group
	require.NoError(t, FromResource(doc, &group))
	assert.Equal(t, "Tour Guides", group.DisplayName)
	require.Len(t, group.Members, 1)
	assert.Equal(t, "2819c223", group.Members[0].Value)

	assert.Equal(t, "e9e30dba", ResourceID(doc))
	assert.Equal(t, "", ResourceID(Resource{}))
}
