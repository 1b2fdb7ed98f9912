package crm

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentworkforce/gridsync/internal/fieldpath"
)

// Route says where records of one entity type live and how updates to them
// must be sent.
type Route struct {
	Resource       string `json:"resource" yaml:"resource"`
	FieldsResource string `json:"fieldsResource" yaml:"fieldsResource"`
	UpdateMethod   string `json:"updateMethod" yaml:"updateMethod"`
	UpdateVersion  string `json:"updateVersion" yaml:"updateVersion"`
	// FlattenCustomFields moves custom_fields.<key> values to the top level
	// of the update body, as older API versions expect.
	FlattenCustomFields bool `json:"flattenCustomFields" yaml:"flattenCustomFields"`
}

func (r Route) UpdatePath(recordID string) string {
	version := strings.Trim(strings.TrimSpace(r.UpdateVersion), "/")
	if version == "" {
		version = "v1"
	}
	return fmt.Sprintf("/%s/%s/%s", version, r.Resource, url.PathEscape(recordID))
}

func (r Route) UpdateBody(fields map[string]any) map[string]any {
	body := make(map[string]any, len(fields))
	for key, value := range fields {
		body[key] = value
	}
	if !r.FlattenCustomFields {
		return body
	}
	if custom, ok := body[fieldpath.CustomFieldsRoot].(map[string]any); ok {
		delete(body, fieldpath.CustomFieldsRoot)
		for key, value := range custom {
			body[key] = value
		}
	}
	return body
}

type RouteTable map[string]Route

var entityAliases = map[string]string{
	"deal":         "deals",
	"person":       "persons",
	"people":       "persons",
	"organization": "organizations",
	"org":          "organizations",
	"activity":     "activities",
	"lead":         "leads",
	"product":      "products",
}

func NormalizeEntityType(entityType string) string {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	if alias, ok := entityAliases[entityType]; ok {
		return alias
	}
	return entityType
}

func DefaultRoutes() RouteTable {
	return RouteTable{
		"deals":         {Resource: "deals", FieldsResource: "dealFields", UpdateMethod: http.MethodPut, UpdateVersion: "v1", FlattenCustomFields: true},
		"persons":       {Resource: "persons", FieldsResource: "personFields", UpdateMethod: http.MethodPut, UpdateVersion: "v1", FlattenCustomFields: true},
		"organizations": {Resource: "organizations", FieldsResource: "organizationFields", UpdateMethod: http.MethodPut, UpdateVersion: "v1", FlattenCustomFields: true},
		"activities":    {Resource: "activities", FieldsResource: "activityFields", UpdateMethod: http.MethodPut, UpdateVersion: "v1", FlattenCustomFields: true},
		"leads":         {Resource: "leads", FieldsResource: "dealFields", UpdateMethod: http.MethodPatch, UpdateVersion: "v1", FlattenCustomFields: true},
		"products":      {Resource: "products", FieldsResource: "productFields", UpdateMethod: http.MethodPatch, UpdateVersion: "v2", FlattenCustomFields: false},
	}
}

func (t RouteTable) Resolve(entityType string) (Route, error) {
	entityType = NormalizeEntityType(entityType)
	route, ok := t[entityType]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
	}
	if route.Resource == "" {
		route.Resource = entityType
	}
	if route.UpdateMethod == "" {
		route.UpdateMethod = http.MethodPut
	}
	return route, nil
}
