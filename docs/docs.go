// Package docs registers the OpenAPI description served at /swagger.
// Regenerate with `swag init -g cmd/server/main.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/health/calculate": {
            "post": {
                "tags": [
                    "health"
                ],
                "summary": "Calculate the health of one deal, contact or company",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "entity to score",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/types.CalculateRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/health/calculate-all": {
            "post": {
                "tags": [
                    "health"
                ],
                "summary": "Calculate the health of every entity of an owner",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "owner",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/main.ownerRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/health/refresh": {
            "post": {
                "tags": [
                    "health"
                ],
                "summary": "Recalculate scores older than max_age_hours",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "refresh options",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/types.RefreshRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/health/triage": {
            "get": {
                "tags": [
                    "health"
                ],
                "summary": "Worst-first ranking of an owner's deals and relationships",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "owner",
                        "name": "owner_id",
                        "in": "query",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "maximum entries",
                        "name": "limit",
                        "in": "query",
                        "required": false
                    }
                ]
            }
        },
        "/api/v1/scores/{kind}/{id}": {
            "get": {
                "tags": [
                    "scores"
                ],
                "summary": "Current health score of an entity",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "deal, contact or company",
                        "name": "kind",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "entity id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/api/v1/scores/{kind}/{id}/history": {
            "get": {
                "tags": [
                    "scores"
                ],
                "summary": "Score history of an entity",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "type": "object"
                            }
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "deal, contact or company",
                        "name": "kind",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "entity id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "maximum snapshots",
                        "name": "limit",
                        "in": "query",
                        "required": false
                    }
                ]
            }
        },
        "/api/v1/scores/{kind}/{id}/alerts": {
            "post": {
                "tags": [
                    "alerts"
                ],
                "summary": "Evaluate alert rules against the stored score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "deal, contact or company",
                        "name": "kind",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "entity id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/api/v1/alerts": {
            "get": {
                "tags": [
                    "alerts"
                ],
                "summary": "List alerts",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "owner",
                        "name": "owner_id",
                        "in": "query",
                        "required": false
                    },
                    {
                        "type": "string",
                        "description": "entity",
                        "name": "entity_id",
                        "in": "query",
                        "required": false
                    },
                    {
                        "type": "string",
                        "description": "active, acknowledged, resolved or dismissed",
                        "name": "status",
                        "in": "query",
                        "required": false
                    },
                    {
                        "type": "integer",
                        "description": "maximum alerts",
                        "name": "limit",
                        "in": "query",
                        "required": false
                    }
                ]
            }
        },
        "/api/v1/rules": {
            "get": {
                "tags": [
                    "rules"
                ],
                "summary": "List alert rules of an owner",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "type": "object"
                            }
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "owner",
                        "name": "owner_id",
                        "in": "query",
                        "required": true
                    }
                ]
            },
            "post": {
                "tags": [
                    "rules"
                ],
                "summary": "Create or replace an alert rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "consumes": [
                    "application/json"
                ],
                "parameters": [
                    {
                        "description": "rule",
                        "name": "rule",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "type": "object"
                        }
                    }
                ]
            }
        },
        "/api/v1/admin/import": {
            "post": {
                "tags": [
                    "admin"
                ],
                "summary": "Import a YAML seed dataset",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "consumes": [
                    "application/x-yaml"
                ]
            }
        },
        "/api/v1/alerts/{id}/acknowledge": {
            "post": {
                "tags": [
                    "alerts"
                ],
                "summary": "Acknowledge an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "alert id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/api/v1/alerts/{id}/resolve": {
            "post": {
                "tags": [
                    "alerts"
                ],
                "summary": "Resolve an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "alert id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/api/v1/alerts/{id}/dismiss": {
            "post": {
                "tags": [
                    "alerts"
                ],
                "summary": "Dismiss an alert",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object"
                        }
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "description": "alert id",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        }
    },
    "definitions": {
        "types.CalculateRequest": {
            "type": "object",
            "required": [
                "id",
                "kind"
            ],
            "properties": {
                "id": {
                    "type": "string"
                },
                "kind": {
                    "type": "string"
                }
            }
        },
        "types.RefreshRequest": {
            "type": "object",
            "required": [
                "owner_id"
            ],
            "properties": {
                "force": {
                    "type": "boolean"
                },
                "max_age_hours": {
                    "type": "number"
                },
                "owner_id": {
                    "type": "string"
                }
            }
        },
        "main.ownerRequest": {
            "type": "object",
            "required": [
                "owner_id"
            ],
            "properties": {
                "owner_id": {
                    "type": "string"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Deal Health Engine API",
	Description:      "Scores deal and relationship health, ranks what needs attention and manages health alerts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
