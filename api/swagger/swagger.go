package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Lingora Insight API",
        "description": "Student performance statistics and intervention flagging",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Students", "description": "Materialized per-student statistics"},
        {"name": "Assignments", "description": "Materialized per-assignment statistics"},
        {"name": "School", "description": "Dated school-wide snapshots"},
        {"name": "NeedsHelp", "description": "Intervention roster and resolution"},
        {"name": "Dashboard", "description": "Composite overview"},
        {"name": "Reports", "description": "Async CSV/PDF exports"},
        {"name": "Admin", "description": "Pipeline administration"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Backing store unavailable"}
                }
            }
        },
        "/api/v1/students/{id}/statistics": {
            "get": {
                "tags": ["Students"],
                "summary": "Materialized statistics for a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No statistics computed for this student"}
                }
            }
        },
        "/api/v1/students/{id}/progress": {
            "get": {
                "tags": ["Students"],
                "summary": "Per-assignment breakdown for a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/assignments/{id}/statistics": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Materialized statistics for an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No statistics computed for this assignment"}
                }
            }
        },
        "/api/v1/assignments/{id}/progress": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Live completion progress for an assignment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Assignment not found"}
                }
            }
        },
        "/api/v1/school/statistics": {
            "get": {
                "tags": ["School"],
                "summary": "School snapshot for one date",
                "parameters": [
                    {"name": "date", "in": "query", "type": "string", "description": "YYYY-MM-DD, defaults to today (UTC)"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No snapshot recorded for this date"}
                }
            }
        },
        "/api/v1/school/statistics/range": {
            "get": {
                "tags": ["School"],
                "summary": "School snapshots between two dates",
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid or oversized date range"}
                }
            }
        },
        "/api/v1/school/statistics/latest": {
            "get": {
                "tags": ["School"],
                "summary": "Most recent school snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No snapshot recorded yet"}
                }
            }
        },
        "/api/v1/needs-help": {
            "get": {
                "tags": ["NeedsHelp"],
                "summary": "List students flagged as needing help",
                "parameters": [
                    {"name": "severity", "in": "query", "type": "string", "enum": ["RECENT", "WARNING", "CRITICAL"]},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "includeResolved", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/needs-help/{id}/notes": {
            "patch": {
                "tags": ["NeedsHelp"],
                "summary": "Update teacher notes on a flag record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NotesUpdateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Record not found"}
                }
            }
        },
        "/api/v1/needs-help/{id}/resolve": {
            "post": {
                "tags": ["NeedsHelp"],
                "summary": "Resolve a flag record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResolveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Record not found"},
                    "409": {"description": "Record already resolved"}
                }
            }
        },
        "/api/v1/dashboard/overview": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Aggregated dashboard overview",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/reports/generate": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report for generation",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid report request"}
                }
            }
        },
        "/api/v1/reports/status/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Job not found"}
                }
            }
        },
        "/api/v1/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished report via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "404": {"description": "Token not recognized or report not ready"},
                    "410": {"description": "Download link expired"}
                }
            }
        },
        "/api/v1/admin/aggregation/run": {
            "post": {
                "tags": ["Admin"],
                "summary": "Queue a manual aggregation run",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Run queue unavailable"}
                }
            }
        },
        "/api/v1/admin/aggregation/runs": {
            "get": {
                "tags": ["Admin"],
                "summary": "Recent aggregation runs",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/admin/aggregation/status": {
            "get": {
                "tags": ["Admin"],
                "summary": "Latest aggregation run",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No run recorded yet"}
                }
            }
        },
        "/api/v1/admin/metrics": {
            "get": {
                "tags": ["Admin"],
                "summary": "Operational metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "StudentStats": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "total_assignments": {"type": "integer"},
                "completed_assignments": {"type": "integer"},
                "in_progress_assignments": {"type": "integer"},
                "average_score": {"type": "number"},
                "total_questions": {"type": "integer"},
                "total_answers": {"type": "integer"},
                "total_correct_answers": {"type": "integer"},
                "accuracy_rate": {"type": "number"},
                "completion_rate": {"type": "number"},
                "last_updated": {"type": "string"}
            }
        },
        "AssignmentStats": {
            "type": "object",
            "properties": {
                "assignment_id": {"type": "string"},
                "total_students": {"type": "integer"},
                "total_questions": {"type": "integer"},
                "completed_students": {"type": "integer"},
                "in_progress_students": {"type": "integer"},
                "not_started_students": {"type": "integer"},
                "completion_rate": {"type": "number"},
                "average_score": {"type": "number"},
                "accuracy_rate": {"type": "number"},
                "last_updated": {"type": "string"}
            }
        },
        "SchoolStats": {
            "type": "object",
            "properties": {
                "stat_date": {"type": "string"},
                "total_users": {"type": "integer"},
                "total_students": {"type": "integer"},
                "total_teachers": {"type": "integer"},
                "total_classes": {"type": "integer"},
                "total_assignments": {"type": "integer"},
                "average_completion_rate": {"type": "number"},
                "average_score": {"type": "number"},
                "daily_active_students": {"type": "integer"},
                "students_needing_help": {"type": "integer"},
                "last_updated": {"type": "string"}
            }
        },
        "NeedsHelpRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "studentId": {"type": "string"},
                "reasons": {"type": "array", "items": {"type": "string"}},
                "reasonDetails": {"type": "array", "items": {"type": "string"}},
                "needsHelpSince": {"type": "string"},
                "daysNeedingHelp": {"type": "integer"},
                "severity": {"type": "string", "enum": ["RECENT", "WARNING", "CRITICAL"]},
                "averageScore": {"type": "number"},
                "completionRate": {"type": "number"},
                "overdueAssignments": {"type": "integer"},
                "associatedClasses": {"type": "array", "items": {"type": "string"}},
                "associatedTeachers": {"type": "array", "items": {"type": "string"}},
                "teacherNotes": {"type": "string"},
                "resolved": {"type": "boolean"},
                "resolvedAt": {"type": "string"},
                "resolvedBy": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "NotesUpdateRequest": {
            "type": "object",
            "properties": {
                "teacherNotes": {"type": "string"}
            },
            "required": ["teacherNotes"]
        },
        "ResolveRequest": {
            "type": "object",
            "properties": {
                "resolvedBy": {"type": "string"}
            },
            "required": ["resolvedBy"]
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["needs_help_roster", "school_summary"]},
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "severity": {"type": "string"},
                "teacherId": {"type": "string"},
                "from": {"type": "string"},
                "to": {"type": "string"}
            },
            "required": ["type", "format"]
        },
        "ReportJob": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                "progress": {"type": "integer"},
                "resultUrl": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "AggregationRun": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "trigger": {"type": "string", "enum": ["SCHEDULED", "MANUAL"]},
                "status": {"type": "string", "enum": ["RUNNING", "COMPLETED", "COMPLETED_WITH_ERRORS", "FAILED"]},
                "students_processed": {"type": "integer"},
                "students_failed": {"type": "integer"},
                "assignments_processed": {"type": "integer"},
                "assignments_failed": {"type": "integer"},
                "flags_created": {"type": "integer"},
                "flags_updated": {"type": "integer"},
                "flags_resolved": {"type": "integer"},
                "error_message": {"type": "string"},
                "started_at": {"type": "string"},
                "finished_at": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
