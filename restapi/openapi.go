package restapi

import (
	"net/http"

	"github.com/invopop/jsonschema"
)

type object = map[string]any

// reflectBody builds a request body whose schema is reflected from the
// struct the handler decodes into, so the two cannot drift.
func reflectBody(v any) object {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""
	return object{
		"required": true,
		"content": object{
			"application/json": object{"schema": s},
		},
	}
}

func okResponse(desc string) object {
	return object{"200": object{"description": desc}}
}

// openAPIDocument describes the GPT Actions endpoints.
func openAPIDocument(baseURL string) object {
	return object{
		"openapi": "3.1.0",
		"info": object{
			"title":                "Target Customer Authentication API",
			"description":          "API for Target customer authentication and profile management.",
			"version":              serviceVersion,
			"x-privacy-policy-url": baseURL + "/privacy",
		},
		"servers": []object{{"url": baseURL, "description": "Target Authentication Server"}},
		"paths": object{
			"/api/actions/authenticate": object{
				"post": object{
					"operationId": "authenticateUser",
					"summary":     "Authenticate a Target customer",
					"description": "Authenticates a Target customer and returns their profile.",
					"requestBody": reflectBody(&actionCredentials{}),
					"responses":   okResponse("Successfully authenticated"),
				},
			},
			"/api/actions/profile": object{
				"get": object{
					"operationId": "getUserProfile",
					"summary":     "Get authenticated user's profile",
					"description": "Returns the currently authenticated Target customer's profile",
					"parameters": []object{
						{"name": "sessionId", "in": "query", "required": true, "schema": object{"type": "string"}},
					},
					"responses": okResponse("User profile retrieved successfully"),
				},
			},
			"/api/actions/logout": object{
				"post": object{
					"operationId": "logoutUser",
					"summary":     "Log out the current user",
					"description": "Ends the current Target customer's session",
					"requestBody": reflectBody(&logoutRequest{}),
					"responses":   okResponse("Successfully logged out"),
				},
			},
		},
	}
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openAPIDocument(h.publicBaseURL(r)))
}
