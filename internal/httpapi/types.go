package httpapi

import (
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/session"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StartRequest is the body of POST /v1/consultations.
type StartRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// StartResponse carries the new session id with the first step.
type StartResponse struct {
	SessionID string `json:"session_id"`
	session.Result
}

// AnswerRequest is the body of POST /v1/consultations/:id/answer. A null or
// missing answer means "don't know".
type AnswerRequest struct {
	Fact   string `json:"fact" binding:"required"`
	Answer *bool  `json:"answer"`
}

// ExplainResponse is the body of GET /v1/consultations/:id/explain.
type ExplainResponse struct {
	Fact  string           `json:"fact"`
	Steps []inference.Step `json:"steps"`
}

// DomainsResponse is the body of GET /v1/domains.
type DomainsResponse struct {
	Domains []string `json:"domains"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
