package openapi

import (
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/purrrlove/perch/internal/gateway"
	"github.com/purrrlove/perch/internal/model"
)

// Generate builds the OpenAPI 3.1 document for the gateway surface. The
// dispatch table contributes the resource tags; the fixed paths cover the
// unauthenticated OAuth and login endpoints plus the dispatched resources.
func Generate(registry *gateway.Registry) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Purrr.love Gateway API",
			Description: "Authentication, authorization, and rate limiting for the Purrr.love platform.",
			Version:     model.APIVersion,
		},
		Servers: openapi3.Servers{
			{URL: "/api/v1"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["Envelope"] = &openapi3.SchemaRef{Value: envelopeSchema()}

	doc.Paths = openapi3.NewPaths()
	addOAuthPaths(doc)
	addSessionPaths(doc)
	addKeyPaths(doc)

	doc.Tags = openapi3.Tags{}
	for _, res := range registry.Resources() {
		doc.Tags = append(doc.Tags, &openapi3.Tag{Name: res})
	}
	return doc
}

func envelopeSchema() *openapi3.Schema {
	return &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"success": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			"data":    &openapi3.SchemaRef{Value: &openapi3.Schema{}},
			"error": &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object", "null"},
					Properties: openapi3.Schemas{
						"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"details": &openapi3.SchemaRef{Value: &openapi3.Schema{}},
					},
				},
			},
			"meta": &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"timestamp":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
						"request_id": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"version":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
					},
				},
			},
		},
	}
}

func envelopeResponse(description string) *openapi3.Response {
	return &openapi3.Response{
		Description: &description,
		Content: openapi3.Content{
			"application/json": &openapi3.MediaType{
				Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/Envelope"},
			},
		},
	}
}

func op(tag, summary string, authenticated bool) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.Tags = []string{tag}
	o.Summary = summary
	o.Responses = openapi3.NewResponses()
	o.Responses.Set("200", &openapi3.ResponseRef{Value: envelopeResponse("Standard response envelope")})
	o.Responses.Set("429", &openapi3.ResponseRef{Value: envelopeResponse("Rate limit exceeded")})
	if authenticated {
		o.Responses.Set("401", &openapi3.ResponseRef{Value: envelopeResponse("Authentication required")})
		o.Responses.Set("403", &openapi3.ResponseRef{Value: envelopeResponse("Insufficient permissions")})
	} else {
		o.Security = &openapi3.SecurityRequirements{}
	}
	return o
}

func idParam() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     "id",
				In:       "path",
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
			},
		},
	}
}

func addOAuthPaths(doc *openapi3.T) {
	doc.Paths.Set("/oauth/authorize", &openapi3.PathItem{
		Post: op("oauth", "Issue a single-use authorization code", false),
	})
	doc.Paths.Set("/oauth/token", &openapi3.PathItem{
		Post: op("oauth", "Exchange a code or refresh token for an access token", false),
	})
	doc.Paths.Set("/oauth/revoke", &openapi3.PathItem{
		Post: op("oauth", "Revoke an access or refresh token", false),
	})
	doc.Paths.Set("/oauth/userinfo", &openapi3.PathItem{
		Get: op("oauth", "Claims for the bearer token", false),
	})
}

func addSessionPaths(doc *openapi3.T) {
	doc.Paths.Set("/auth/login", &openapi3.PathItem{
		Post: op("auth", "Exchange email and password for a session token", false),
	})
	doc.Paths.Set("/auth/profile", &openapi3.PathItem{
		Get: op("auth", "Current user's profile", true),
		Put: op("auth", "Update the current user's profile", true),
	})
	doc.Paths.Set("/auth/logout", &openapi3.PathItem{
		Post: op("auth", "End the session", true),
	})
}

func addKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/keys", &openapi3.PathItem{
		Get:  op("keys", "List the caller's API keys", true),
		Post: op("keys", "Create an API key; the raw secret is returned once", true),
	})
	doc.Paths.Set("/keys/{id}", &openapi3.PathItem{
		Put:        op("keys", "Update key metadata", true),
		Delete:     op("keys", "Revoke a key", true),
		Parameters: idParam(),
	})
	doc.Paths.Set("/keys/usage/{id}", &openapi3.PathItem{
		Get:        op("keys", "Usage statistics for a key", true),
		Parameters: idParam(),
	})
}

// Handler serves the generated document. The JSON is rendered once on
// first request; the dispatch table is fixed after startup.
type Handler struct {
	registry *gateway.Registry
	once     sync.Once
	body     []byte
	err      error
}

// NewHandler builds a spec handler over the dispatch table.
func NewHandler(registry *gateway.Registry) *Handler {
	return &Handler{registry: registry}
}

// ServeSpec writes the OpenAPI document.
func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.body, h.err = Generate(h.registry).MarshalJSON()
	})
	if h.err != nil {
		http.Error(w, "spec generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(h.body)
}
