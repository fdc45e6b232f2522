package scim

import (
	"encoding/json"
	"strings"
	"time"
)

// Schema URIs defined by RFC 7643 and RFC 7644.
const (
	SchemaCore                  = "urn:ietf:params:scim:schemas:core:2.0:Core"
	SchemaUser                  = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup                 = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaServiceProviderConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	SchemaResourceType          = "urn:ietf:params:scim:schemas:core:2.0:ResourceType"
	SchemaSchema                = "urn:ietf:params:scim:schemas:core:2.0:Schema"
	SchemaEnterpriseUser        = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
	SchemaListResponse          = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaPatchOp               = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaBulkRequest           = "urn:ietf:params:scim:api:messages:2.0:BulkRequest"
	SchemaBulkResponse          = "urn:ietf:params:scim:api:messages:2.0:BulkResponse"
	SchemaError                 = "urn:ietf:params:scim:api:messages:2.0:Error"
	SchemaSearchRequest         = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"
)

// Resource is the document form every engine component operates on: the
// JSON object of a SCIM resource decoded into a map. Attribute names are
// matched case-insensitively throughout; original key casing is
// preserved on write.
type Resource = map[string]any

// CloneResource returns a deep copy of a resource document. Engine
// components that mutate a resource always work on a clone; callers keep
// their input untouched.
func CloneResource(doc Resource) Resource {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// lookupKey finds a key in a document case-insensitively and reports the
// stored casing. Exact matches win over case-folded ones.
func lookupKey(doc map[string]any, name string) (string, any, bool) {
	if v, ok := doc[name]; ok {
		return name, v, true
	}
	for k, v := range doc {
		if strings.EqualFold(k, name) {
			return k, v, true
		}
	}
	return name, nil, false
}

// ToResource converts any JSON-serializable value into its document form.
func ToResource(v any) (Resource, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Resource
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromResource decodes a resource document into a typed view such as
// *User or *Group.
func FromResource(doc Resource, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ResourceID returns the id attribute of a document, if set.
func ResourceID(doc Resource) string {
	_, v, _ := lookupKey(doc, "id")
	s, _ := v.(string)
	return s
}

// Meta contains metadata about a SCIM resource
type Meta struct {
	ResourceType string     `json:"resourceType"`
	Created      *time.Time `json:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty"`
	Version      string     `json:"version,omitempty"`
}

// User is the typed view of a SCIM User resource
type User struct {
	ID               string            `json:"id,omitempty"`
	ExternalID       string            `json:"externalId,omitempty"`
	Meta             *Meta             `json:"meta,omitempty"`
	Schemas          []string          `json:"schemas"`
	UserName         string            `json:"userName,omitempty"`
	Name             *Name             `json:"name,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	NickName         string            `json:"nickName,omitempty"`
	ProfileURL       string            `json:"profileUrl,omitempty"`
	Title            string            `json:"title,omitempty"`
	UserType         string            `json:"userType,omitempty"`
	PreferredLang    string            `json:"preferredLanguage,omitempty"`
	Locale           string            `json:"locale,omitempty"`
	Timezone         string            `json:"timezone,omitempty"`
	Active           *bool             `json:"active,omitempty"`
	Password         string            `json:"password,omitempty"`
	Emails           []Email           `json:"emails,omitempty"`
	PhoneNumbers     []PhoneNumber     `json:"phoneNumbers,omitempty"`
	IMs              []IM              `json:"ims,omitempty"`
	Photos           []Photo           `json:"photos,omitempty"`
	Addresses        []Address         `json:"addresses,omitempty"`
	Groups           []GroupRef        `json:"groups,omitempty"`
	Entitlements     []Entitlement     `json:"entitlements,omitempty"`
	Roles            []Role            `json:"roles,omitempty"`
	X509Certificates []X509Certificate `json:"x509Certificates,omitempty"`
	EnterpriseUser   *EnterpriseUser   `json:"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User,omitempty"`
}

// Name represents a user's name components
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// EnterpriseUser carries the enterprise extension attributes keyed by
// SchemaEnterpriseUser on the User document.
type EnterpriseUser struct {
	EmployeeNumber string      `json:"employeeNumber,omitempty"`
	CostCenter     string      `json:"costCenter,omitempty"`
	Organization   string      `json:"organization,omitempty"`
	Division       string      `json:"division,omitempty"`
	Department     string      `json:"department,omitempty"`
	Manager        *ManagerRef `json:"manager,omitempty"`
}

// ManagerRef points at the user's manager.
type ManagerRef struct {
	Value   string `json:"value,omitempty"`
	Ref     string `json:"$ref,omitempty"`
	Display string `json:"displayName,omitempty"`
}

// MultiValuedAttribute represents a generic multi-valued SCIM attribute
type MultiValuedAttribute[T any] struct {
	Value   T      `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
	Display string `json:"display,omitempty"`
}

// Email represents an email address
type Email = MultiValuedAttribute[string]

// PhoneNumber represents a phone number
type PhoneNumber = MultiValuedAttribute[string]

// IM represents an instant messaging address
type IM = MultiValuedAttribute[string]

// Photo represents a photo URL
type Photo = MultiValuedAttribute[string]

// Address represents a physical mailing address
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
	Type          string `json:"type,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
}

// GroupRef represents a reference to a group. The groups attribute on a
// User is read-only and computed by the host service, not stored.
type GroupRef struct {
	Value   string `json:"value"`
	Ref     string `json:"$ref,omitempty"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Entitlement represents an entitlement
type Entitlement = MultiValuedAttribute[string]

// Role represents a role
type Role = MultiValuedAttribute[string]

// X509Certificate represents an X.509 certificate
type X509Certificate = MultiValuedAttribute[string]

// Group is the typed view of a SCIM Group resource
type Group struct {
	ID          string      `json:"id,omitempty"`
	ExternalID  string      `json:"externalId,omitempty"`
	Meta        *Meta       `json:"meta,omitempty"`
	Schemas     []string    `json:"schemas"`
	DisplayName string      `json:"displayName"`
	Members     []MemberRef `json:"members,omitempty"`
}

// MemberRef represents a reference to a group member
type MemberRef struct {
	Value   string `json:"value"`
	Ref     string `json:"$ref,omitempty"`
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
}

// ListResponse represents a SCIM list response envelope
type ListResponse[T any] struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []T      `json:"Resources"`
}

// PatchOp represents a SCIM PATCH request envelope
type PatchOp struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation represents a single SCIM PATCH operation
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SearchRequest represents the POST /.search envelope
type SearchRequest struct {
	Schemas            []string `json:"schemas"`
	Attributes         []string `json:"attributes,omitempty"`
	ExcludedAttributes []string `json:"excludedAttributes,omitempty"`
	Filter             string   `json:"filter,omitempty"`
	SortBy             string   `json:"sortBy,omitempty"`
	SortOrder          string   `json:"sortOrder,omitempty"`
	StartIndex         int      `json:"startIndex,omitempty"`
	Count              int      `json:"count,omitempty"`
}

// BulkRequest represents a SCIM bulk request
type BulkRequest struct {
	Schemas      []string        `json:"schemas"`
	FailOnErrors int             `json:"failOnErrors,omitempty"`
	Operations   []BulkOperation `json:"Operations"`
}

// BulkResponse represents a SCIM bulk response
type BulkResponse struct {
	Schemas    []string                `json:"schemas"`
	Operations []BulkOperationResponse `json:"Operations"`
}

// BulkOperation represents a single bulk operation
type BulkOperation struct {
	Method string         `json:"method"`
	BulkID string         `json:"bulkId,omitempty"`
	Path   string         `json:"path"`
	Data   map[string]any `json:"data,omitempty"`
}

// BulkOperationResponse represents a bulk operation response
type BulkOperationResponse struct {
	Method   string `json:"method,omitempty"`
	BulkID   string `json:"bulkId,omitempty"`
	Location string `json:"location,omitempty"`
	Response any    `json:"response,omitempty"`
	Status   string `json:"status"`
}

// QueryParams carries the typed list-request inputs produced by
// ParseQueryParams. A Count of -1 means the client did not ask for a
// page size; the service applies its configured ceiling.
type QueryParams struct {
	Filter       string
	FilterExpr   Expression
	Attributes   []string
	ExcludedAttr []string
	StartIndex   int
	Count        int
	SortBy       string
	SortOrder    string
}

// Bool returns a pointer to the given bool value
func Bool(b bool) *bool {
	return &b
}
