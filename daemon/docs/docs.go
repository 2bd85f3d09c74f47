// Package docs provides Swagger/OpenAPI documentation for the Live API (C9).
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "MCPHawk Live API",
        "description": "Read-only HTTP surface over the message store, analytics engine, and broadcast hub for the browser dashboard.",
        "contact": {},
        "license": {"name": "MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/status": {
            "get": {
                "tags": ["Status"],
                "summary": "Report whether the query server is co-hosted",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/logs": {
            "get": {
                "tags": ["Logs"],
                "summary": "Fetch the most recent captured message records",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer", "required": false}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ws": {
            "get": {
                "tags": ["WebSocket"],
                "summary": "Subscribe to a live push of newly captured records",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Prometheus capture-health gauges",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/timeseries": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Message volume bucketed over time",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/methods": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Method call frequency ranking",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/transport": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Message distribution by transport",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/message-types": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Message distribution by JSON-RPC type",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/performance": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Request/response latency percentiles and histogram",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/metrics/errors": {
            "get": {
                "tags": ["Analytics"],
                "summary": "JSON-RPC error rate bucketed over time",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "",
	Host:             "",
	BasePath:         "",
	Schemes:          []string{},
	Title:            "MCPHawk Live API",
	Description:      "Read-only HTTP surface over the message store, analytics engine, and broadcast hub.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
