package model

import (
	"fmt"
	"time"
)

// MaxPatternLen bounds wildcard search patterns accepted over the API.
const MaxPatternLen = 512

// ValidatePattern checks a wildcard search pattern before it reaches the
// registry's regexp compiler.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if len(pattern) > MaxPatternLen {
		return fmt.Errorf("pattern exceeds maximum length of %d characters", MaxPatternLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// WildcardResponse is the response for GET /v1/typedefs/search.
// Matched is false when no active definition matched the pattern.
type WildcardResponse struct {
	Matched           bool               `json:"matched"`
	TypeDefs          []TypeDef          `json:"typedefs,omitempty"`
	AttributeTypeDefs []AttributeTypeDef `json:"attribute_typedefs,omitempty"`
}

// TypeDefListResponse is the body of GET /v1/typedefs.
type TypeDefListResponse struct {
	TypeDefs          []TypeDef          `json:"typedefs"`
	AttributeTypeDefs []AttributeTypeDef `json:"attribute_typedefs"`
}

// TypeDefView decorates a definition with its registry status.
type TypeDefView struct {
	TypeDef  TypeDef `json:"typedef"`
	Active   bool    `json:"active"`
	OpenType bool    `json:"open_type"`
}

// AttributeTypeDefView decorates an attribute type with its registry status.
type AttributeTypeDefView struct {
	AttributeTypeDef AttributeTypeDef `json:"attribute_typedef"`
	Active           bool             `json:"active"`
	OpenType         bool             `json:"open_type"`
}

// CompatibilityResponse is the body of GET /v1/classifications/{c}/entities/{e}.
type CompatibilityResponse struct {
	Classification string `json:"classification"`
	Entity         string `json:"entity"`
	Valid          bool   `json:"valid"`
}

// EventAccepted is the response for POST /v1/cohorts/{cohort}/events.
type EventAccepted struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// ResolveReviewRequest is the request body for POST /v1/reviews/{id}/resolve.
type ResolveReviewRequest struct {
	Apply bool    `json:"apply"`
	Note  *string `json:"note,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Subject string `json:"subject"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is returned by POST /auth/token and by ruikeictl token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Postgres        string `json:"postgres,omitempty"`
	Cohort          string `json:"cohort,omitempty"`
	LocalRepository string `json:"local_repository"`
	KnownTypes      int    `json:"known_types"`
	ActiveTypes     int    `json:"active_types"`
	PendingReviews  int    `json:"pending_reviews"`
	AuditBuffer     int    `json:"audit_buffer_depth"`
	Uptime          int64  `json:"uptime_seconds"`
}
