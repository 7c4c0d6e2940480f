// Package docs registers the OpenAPI description of the v1 API with swag.
// Regenerate with: swag init -g cmd/app/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/accounts/me": {
            "get": {
                "tags": ["accounts"],
                "summary": "Get the authenticated user's account",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.AccountResponseDTO"}},
                    "401": {"description": "unauthorized"},
                    "404": {"description": "user not found"}
                }
            },
            "post": {
                "tags": ["accounts"],
                "summary": "Sign up the authenticated user",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "account", "schema": {"$ref": "#/definitions/dto.AccountCreateDTO"}}],
                "responses": {
                    "200": {"description": "existing account", "schema": {"$ref": "#/definitions/dto.AccountResponseDTO"}},
                    "201": {"description": "created", "schema": {"$ref": "#/definitions/dto.AccountResponseDTO"}},
                    "400": {"description": "invalid request payload"}
                }
            }
        },
        "/quota/{action}": {
            "get": {
                "tags": ["usage"],
                "summary": "Check whether the caller may perform an action",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "enum": ["message", "document"], "name": "action", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.QuotaResponseDTO"}},
                    "400": {"description": "unknown action"}
                }
            }
        },
        "/quota/{action}/authorize": {
            "post": {
                "tags": ["usage"],
                "summary": "Gate an action before it is dispatched",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "enum": ["message", "document"], "name": "action", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.QuotaResponseDTO"}},
                    "400": {"description": "unknown action"},
                    "402": {"description": "quota exhausted", "schema": {"$ref": "#/definitions/dto.ErrorResponseDTO"}}
                }
            }
        },
        "/usage": {
            "post": {
                "tags": ["usage"],
                "summary": "Record one consumed action",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "usage", "required": true, "schema": {"$ref": "#/definitions/dto.UsageRecordDTO"}}],
                "responses": {
                    "200": {"description": "recorded", "schema": {"$ref": "#/definitions/dto.UsageRecordResponseDTO"}},
                    "202": {"description": "queued for retry", "schema": {"$ref": "#/definitions/dto.UsageRecordResponseDTO"}},
                    "404": {"description": "account not found"},
                    "503": {"description": "usage could not be recorded"}
                }
            }
        },
        "/performance": {
            "post": {
                "tags": ["usage"],
                "summary": "Record latency and outcome of a served request",
                "parameters": [{"in": "body", "name": "performance", "required": true, "schema": {"$ref": "#/definitions/dto.PerformanceRecordDTO"}}],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "invalid request payload"}}
            }
        },
        "/ratings": {
            "post": {
                "tags": ["usage"],
                "summary": "Record a satisfaction rating",
                "parameters": [{"in": "body", "name": "rating", "required": true, "schema": {"$ref": "#/definitions/dto.RatingDTO"}}],
                "responses": {"204": {"description": "No Content"}, "400": {"description": "rating must be between 1 and 5"}}
            }
        },
        "/subscriptions/checkout": {
            "post": {
                "tags": ["subscriptions"],
                "summary": "Initiate a Stripe Checkout session for plan upgrade",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.CheckoutResponseDTO"}}}
            }
        },
        "/subscriptions/confirm": {
            "post": {
                "tags": ["subscriptions"],
                "summary": "Confirm a completed checkout and upgrade the caller",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "confirm", "required": true, "schema": {"$ref": "#/definitions/dto.ConfirmUpgradeDTO"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.TransitionResponseDTO"}},
                    "402": {"description": "payment not verified", "schema": {"$ref": "#/definitions/dto.ErrorResponseDTO"}},
                    "409": {"description": "transition in progress", "schema": {"$ref": "#/definitions/dto.ErrorResponseDTO"}},
                    "504": {"description": "payment provider timeout", "schema": {"$ref": "#/definitions/dto.ErrorResponseDTO"}}
                }
            }
        },
        "/subscriptions/portal": {
            "get": {
                "tags": ["subscriptions"],
                "summary": "Create a Stripe Customer Portal session",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.PortalResponseDTO"}}}
            }
        },
        "/webhooks/stripe": {
            "post": {
                "tags": ["subscriptions"],
                "summary": "Stripe webhook receiver",
                "security": [],
                "responses": {"200": {"description": "OK"}, "400": {"description": "signature verification failed"}, "500": {"description": "failed to process event"}}
            }
        },
        "/admin/metrics": {
            "get": {
                "tags": ["admin"],
                "summary": "Business and usage metrics",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "default": "30d", "name": "range", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/model.MetricsSnapshot"}}, "403": {"description": "forbidden"}}
            }
        }
    },
    "definitions": {
        "dto.AccountCreateDTO": {"type": "object", "properties": {"email": {"type": "string"}, "full_name": {"type": "string"}}},
        "dto.LimitsDTO": {"type": "object", "properties": {"messages": {"type": "integer"}, "documents": {"type": "integer"}}},
        "dto.AccountResponseDTO": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}, "email": {"type": "string"}, "full_name": {"type": "string"},
                "role": {"type": "string"}, "plan": {"type": "string", "enum": ["free", "premium"]},
                "messages_sent": {"type": "integer"}, "documents_uploaded": {"type": "integer"},
                "limits": {"$ref": "#/definitions/dto.LimitsDTO"},
                "created_at": {"type": "string"}, "last_active_at": {"type": "string"}, "plan_changed_at": {"type": "string"}
            }
        },
        "dto.QuotaResponseDTO": {"type": "object", "properties": {"action": {"type": "string"}, "allowed": {"type": "boolean"}, "remaining": {"type": "integer"}, "limit": {"type": "integer"}}},
        "dto.UsageRecordDTO": {"type": "object", "required": ["action"], "properties": {"action": {"type": "string", "enum": ["message", "document"]}}},
        "dto.UsageRecordResponseDTO": {"type": "object", "properties": {"status": {"type": "string"}}},
        "dto.PerformanceRecordDTO": {"type": "object", "required": ["latency_ms", "success"], "properties": {"latency_ms": {"type": "number"}, "success": {"type": "boolean"}}},
        "dto.RatingDTO": {"type": "object", "required": ["score"], "properties": {"score": {"type": "integer", "minimum": 1, "maximum": 5}}},
        "dto.CheckoutResponseDTO": {"type": "object", "properties": {"session_id": {"type": "string"}, "url": {"type": "string"}}},
        "dto.PortalResponseDTO": {"type": "object", "properties": {"url": {"type": "string"}}},
        "dto.ConfirmUpgradeDTO": {"type": "object", "required": ["session_id"], "properties": {"session_id": {"type": "string"}}},
        "dto.TransitionResponseDTO": {"type": "object", "properties": {"outcome": {"type": "string", "enum": ["committed", "duplicate"]}}},
        "dto.ErrorResponseDTO": {"type": "object", "properties": {"error": {"type": "string"}, "reason": {"type": "string"}, "action": {"type": "string"}, "upgrade": {"type": "boolean"}}},
        "model.MetricsSnapshot": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Quota Ledger API",
	Description:      "Quota, usage and plan entitlement ledger",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
