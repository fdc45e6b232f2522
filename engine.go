// Package scimcore assembles the SCIM 2.0 protocol engine: resource
// services over pluggable storage adapters, a bulk dispatcher, the
// discovery documents, and an HTTP binding for the RFC 7644 surface.
package scimcore

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/marcelom97/scimcore/scim"
	"github.com/marcelom97/scimcore/service"
)

// Options configures an Engine. UserAdapter is required; everything
// else has a usable default.
type Options struct {
	UserAdapter service.Adapter

	// GroupAdapter enables the /Groups endpoints. When nil, Group
	// routes answer 501 and Group entries are withheld from discovery.
	GroupAdapter service.Adapter

	// BaseURL is the externally visible prefix used in Location headers
	// and bulk response locations.
	BaseURL string

	// MaxFilterResults caps list page sizes. Zero means no cap.
	MaxFilterResults int

	BulkEnabled       bool
	MaxBulkOperations int

	// MaxPayloadSize caps request bodies in bytes. Zero means the
	// default of 1 MiB.
	MaxPayloadSize int

	DocumentationURI string
	AuthSchemes      []scim.AuthenticationScheme

	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

const defaultMaxPayloadSize = 1 << 20

// Engine is an assembled SCIM protocol engine. Construct with New and
// expose over HTTP via Router, or drive the services directly.
type Engine struct {
	users  *service.ResourceService
	groups *service.ResourceService
	bulk   *service.BulkDispatcher

	discovery      scim.DiscoveryOptions
	baseURL        string
	maxPayloadSize int
	log            zerolog.Logger
}

// New assembles an engine from the given options.
func New(opts Options) *Engine {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	maxPayload := opts.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayloadSize
	}
	maxBulkOps := opts.MaxBulkOperations
	if maxBulkOps <= 0 {
		maxBulkOps = service.DefaultMaxBulkOperations
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	users := service.NewResourceService("User", scim.SchemaUser, opts.UserAdapter, service.Options{
		MaxFilterResults:   opts.MaxFilterResults,
		RequiredAttributes: []string{"userName"},
		Logger:             log,
	})

	var groups *service.ResourceService
	if opts.GroupAdapter != nil {
		groups = service.NewResourceService("Group", scim.SchemaGroup, opts.GroupAdapter, service.Options{
			MaxFilterResults:   opts.MaxFilterResults,
			RequiredAttributes: []string{"displayName"},
			Logger:             log,
		})
	}

	var bulk *service.BulkDispatcher
	if opts.BulkEnabled {
		bulk = service.NewBulkDispatcher(users, groups, service.BulkOptions{
			MaxOperations: maxBulkOps,
			BaseURL:       baseURL,
			Logger:        log,
		})
	}

	return &Engine{
		users:  users,
		groups: groups,
		bulk:   bulk,
		discovery: scim.DiscoveryOptions{
			BulkEnabled:       opts.BulkEnabled,
			MaxBulkOperations: maxBulkOps,
			MaxPayloadSize:    maxPayload,
			MaxFilterResults:  opts.MaxFilterResults,
			GroupsEnabled:     opts.GroupAdapter != nil,
			DocumentationURI:  opts.DocumentationURI,
			AuthSchemes:       opts.AuthSchemes,
		},
		baseURL:        baseURL,
		maxPayloadSize: maxPayload,
		log:            log,
	}
}

// Users returns the User resource service.
func (e *Engine) Users() *service.ResourceService {
	return e.users
}

// Groups returns the Group resource service, or nil when no group
// adapter is configured.
func (e *Engine) Groups() *service.ResourceService {
	return e.groups
}
