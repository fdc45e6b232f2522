package scim

// ServiceProviderConfig represents the SCIM service provider configuration
type ServiceProviderConfig struct {
	Schemas               []string               `json:"schemas"`
	DocumentationURI      string                 `json:"documentationUri,omitempty"`
	Patch                 SupportedFeature       `json:"patch"`
	Bulk                  BulkFeature            `json:"bulk"`
	Filter                FilterFeature          `json:"filter"`
	ChangePassword        SupportedFeature       `json:"changePassword"`
	Sort                  SupportedFeature       `json:"sort"`
	Etag                  SupportedFeature       `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
}

// SupportedFeature indicates if a feature is supported
type SupportedFeature struct {
	Supported bool `json:"supported"`
}

// BulkFeature describes bulk operation capabilities
type BulkFeature struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

// FilterFeature describes filter capabilities
type FilterFeature struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

// AuthenticationScheme describes an authentication scheme
type AuthenticationScheme struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	SpecURI          string `json:"specUri,omitempty"`
	DocumentationURI string `json:"documentationUri,omitempty"`
	Primary          bool   `json:"primary,omitempty"`
}

// SchemaDefinition represents a SCIM schema definition
type SchemaDefinition struct {
	Schemas     []string              `json:"schemas"`
	ID          string                `json:"id"`
	Name        string                `json:"name,omitempty"`
	Description string                `json:"description,omitempty"`
	Attributes  []AttributeDefinition `json:"attributes,omitempty"`
}

// AttributeDefinition describes a SCIM attribute
type AttributeDefinition struct {
	Name            string                `json:"name"`
	Type            string                `json:"type"`
	SubAttributes   []AttributeDefinition `json:"subAttributes,omitempty"`
	MultiValued     bool                  `json:"multiValued"`
	Description     string                `json:"description,omitempty"`
	Required        bool                  `json:"required"`
	CaseExact       bool                  `json:"caseExact"`
	Mutability      string                `json:"mutability"`
	Returned        string                `json:"returned"`
	Uniqueness      string                `json:"uniqueness"`
	ReferenceTypes  []string              `json:"referenceTypes,omitempty"`
	CanonicalValues []string              `json:"canonicalValues,omitempty"`
}

// ResourceTypeDefinition represents a resource type
type ResourceTypeDefinition struct {
	Schemas          []string             `json:"schemas"`
	ID               string               `json:"id"`
	Name             string               `json:"name,omitempty"`
	Endpoint         string               `json:"endpoint"`
	Description      string               `json:"description,omitempty"`
	Schema           string               `json:"schema"`
	SchemaExtensions []SchemaExtensionRef `json:"schemaExtensions,omitempty"`
}

// SchemaExtensionRef references a schema extension
type SchemaExtensionRef struct {
	Schema   string `json:"schema"`
	Required bool   `json:"required"`
}

// DiscoveryOptions are the runtime options the discovery documents
// reflect.
type DiscoveryOptions struct {
	BulkEnabled       bool
	MaxBulkOperations int
	MaxPayloadSize    int
	MaxFilterResults  int
	GroupsEnabled     bool
	DocumentationURI  string
	AuthSchemes       []AuthenticationScheme
}

// GetServiceProviderConfig returns the service provider configuration
// document (RFC 7644 section 5) for the given runtime options.
func GetServiceProviderConfig(opts DiscoveryOptions) *ServiceProviderConfig {
	return &ServiceProviderConfig{
		Schemas:          []string{SchemaServiceProviderConfig},
		DocumentationURI: opts.DocumentationURI,
		Patch:            SupportedFeature{Supported: true},
		Bulk: BulkFeature{
			Supported:      opts.BulkEnabled,
			MaxOperations:  opts.MaxBulkOperations,
			MaxPayloadSize: opts.MaxPayloadSize,
		},
		Filter: FilterFeature{
			Supported:  true,
			MaxResults: opts.MaxFilterResults,
		},
		ChangePassword:        SupportedFeature{Supported: false},
		Sort:                  SupportedFeature{Supported: true},
		Etag:                  SupportedFeature{Supported: false},
		AuthenticationSchemes: opts.AuthSchemes,
	}
}

// GetResourceTypes returns the resource type documents. User is always
// listed; Group only when a group adapter is configured.
func GetResourceTypes(opts DiscoveryOptions) []ResourceTypeDefinition {
	types := []ResourceTypeDefinition{
		{
			Schemas:     []string{SchemaResourceType},
			ID:          "User",
			Name:        "User",
			Endpoint:    "/Users",
			Description: "User Account",
			Schema:      SchemaUser,
			SchemaExtensions: []SchemaExtensionRef{
				{Schema: SchemaEnterpriseUser, Required: false},
			},
		},
	}
	if opts.GroupsEnabled {
		types = append(types, ResourceTypeDefinition{
			Schemas:     []string{SchemaResourceType},
			ID:          "Group",
			Name:        "Group",
			Endpoint:    "/Groups",
			Description: "Group",
			Schema:      SchemaGroup,
		})
	}
	return types
}

// GetSchemas returns the schema documents served by /Schemas.
func GetSchemas(opts DiscoveryOptions) []*SchemaDefinition {
	schemas := []*SchemaDefinition{
		GetCoreSchema(),
		GetUserSchema(),
		GetEnterpriseUserSchema(),
	}
	if opts.GroupsEnabled {
		schemas = append(schemas, GetGroupSchema())
	}
	return schemas
}

// GetSchemaByID returns a single schema document, or nil when the URI
// is not served.
func GetSchemaByID(opts DiscoveryOptions, id string) *SchemaDefinition {
	for _, schema := range GetSchemas(opts) {
		if schema.ID == id {
			return schema
		}
	}
	return nil
}

func stringAttr(name string) AttributeDefinition {
	return AttributeDefinition{
		Name:       name,
		Type:       "string",
		Mutability: "readWrite",
		Returned:   "default",
		Uniqueness: "none",
	}
}

func multiValuedAttr(name string, extra ...AttributeDefinition) AttributeDefinition {
	subs := []AttributeDefinition{
		stringAttr("value"),
		stringAttr("display"),
		{Name: "type", Type: "string", Mutability: "readWrite", Returned: "default", Uniqueness: "none", CanonicalValues: []string{"work", "home", "other"}},
		{Name: "primary", Type: "boolean", Mutability: "readWrite", Returned: "default"},
	}
	subs = append(subs, extra...)
	return AttributeDefinition{
		Name:          name,
		Type:          "complex",
		MultiValued:   true,
		Mutability:    "readWrite",
		Returned:      "default",
		SubAttributes: subs,
	}
}

// GetCoreSchema returns the common-attribute schema definition.
func GetCoreSchema() *SchemaDefinition {
	return &SchemaDefinition{
		Schemas:     []string{SchemaSchema},
		ID:          SchemaCore,
		Name:        "Core",
		Description: "Common resource attributes",
		Attributes: []AttributeDefinition{
			{Name: "id", Type: "string", Required: true, CaseExact: true, Mutability: "readOnly", Returned: "always", Uniqueness: "server"},
			{Name: "externalId", Type: "string", CaseExact: true, Mutability: "readWrite", Returned: "default", Uniqueness: "none"},
			{
				Name: "meta", Type: "complex", Mutability: "readOnly", Returned: "default",
				SubAttributes: []AttributeDefinition{
					{Name: "resourceType", Type: "string", CaseExact: true, Mutability: "readOnly", Returned: "default"},
					{Name: "created", Type: "dateTime", Mutability: "readOnly", Returned: "default"},
					{Name: "lastModified", Type: "dateTime", Mutability: "readOnly", Returned: "default"},
					{Name: "location", Type: "reference", Mutability: "readOnly", Returned: "default"},
					{Name: "version", Type: "string", CaseExact: true, Mutability: "readOnly", Returned: "default"},
				},
			},
		},
	}
}

// GetUserSchema returns the User schema definition
func GetUserSchema() *SchemaDefinition {
	return &SchemaDefinition{
		Schemas:     []string{SchemaSchema},
		ID:          SchemaUser,
		Name:        "User",
		Description: "User Account",
		Attributes: []AttributeDefinition{
			{Name: "userName", Type: "string", Required: true, Mutability: "readWrite", Returned: "default", Uniqueness: "server"},
			{
				Name: "name", Type: "complex", Mutability: "readWrite", Returned: "default",
				SubAttributes: []AttributeDefinition{
					stringAttr("formatted"),
					stringAttr("familyName"),
					stringAttr("givenName"),
					stringAttr("middleName"),
					stringAttr("honorificPrefix"),
					stringAttr("honorificSuffix"),
				},
			},
			stringAttr("displayName"),
			stringAttr("nickName"),
			{Name: "profileUrl", Type: "reference", Mutability: "readWrite", Returned: "default", ReferenceTypes: []string{"external"}},
			stringAttr("title"),
			stringAttr("userType"),
			stringAttr("preferredLanguage"),
			stringAttr("locale"),
			stringAttr("timezone"),
			{Name: "active", Type: "boolean", Mutability: "readWrite", Returned: "default"},
			{Name: "password", Type: "string", Mutability: "writeOnly", Returned: "never"},
			multiValuedAttr("emails"),
			multiValuedAttr("phoneNumbers"),
			multiValuedAttr("ims"),
			multiValuedAttr("photos"),
			{
				Name: "addresses", Type: "complex", MultiValued: true, Mutability: "readWrite", Returned: "default",
				SubAttributes: []AttributeDefinition{
					stringAttr("formatted"),
					stringAttr("streetAddress"),
					stringAttr("locality"),
					stringAttr("region"),
					stringAttr("postalCode"),
					stringAttr("country"),
					{Name: "type", Type: "string", Mutability: "readWrite", Returned: "default", CanonicalValues: []string{"work", "home", "other"}},
					{Name: "primary", Type: "boolean", Mutability: "readWrite", Returned: "default"},
				},
			},
			{
				Name: "groups", Type: "complex", MultiValued: true, Mutability: "readOnly", Returned: "default",
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: "string", Mutability: "readOnly", Returned: "default"},
					{Name: "$ref", Type: "reference", Mutability: "readOnly", Returned: "default", ReferenceTypes: []string{"User", "Group"}},
					{Name: "display", Type: "string", Mutability: "readOnly", Returned: "default"},
					{Name: "type", Type: "string", Mutability: "readOnly", Returned: "default", CanonicalValues: []string{"direct", "indirect"}},
				},
			},
			multiValuedAttr("entitlements"),
			multiValuedAttr("roles"),
			multiValuedAttr("x509Certificates"),
		},
	}
}

// GetEnterpriseUserSchema returns the enterprise User extension schema.
func GetEnterpriseUserSchema() *SchemaDefinition {
	return &SchemaDefinition{
		Schemas:     []string{SchemaSchema},
		ID:          SchemaEnterpriseUser,
		Name:        "EnterpriseUser",
		Description: "Enterprise User",
		Attributes: []AttributeDefinition{
			stringAttr("employeeNumber"),
			stringAttr("costCenter"),
			stringAttr("organization"),
			stringAttr("division"),
			stringAttr("department"),
			{
				Name: "manager", Type: "complex", Mutability: "readWrite", Returned: "default",
				SubAttributes: []AttributeDefinition{
					stringAttr("value"),
					{Name: "$ref", Type: "reference", Mutability: "readWrite", Returned: "default", ReferenceTypes: []string{"User"}},
					{Name: "displayName", Type: "string", Mutability: "readOnly", Returned: "default"},
				},
			},
		},
	}
}

// GetGroupSchema returns the Group schema definition
func GetGroupSchema() *SchemaDefinition {
	return &SchemaDefinition{
		Schemas:     []string{SchemaSchema},
		ID:          SchemaGroup,
		Name:        "Group",
		Description: "Group",
		Attributes: []AttributeDefinition{
			{Name: "displayName", Type: "string", Required: true, Mutability: "readWrite", Returned: "default", Uniqueness: "none"},
			{
				Name: "members", Type: "complex", MultiValued: true, Mutability: "readWrite", Returned: "default",
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: "string", Mutability: "immutable", Returned: "default"},
					{Name: "$ref", Type: "reference", Mutability: "immutable", Returned: "default", ReferenceTypes: []string{"User", "Group"}},
					{Name: "type", Type: "string", Mutability: "immutable", Returned: "default", CanonicalValues: []string{"User", "Group"}},
					{Name: "display", Type: "string", Mutability: "immutable", Returned: "default"},
				},
			},
		},
	}
}
