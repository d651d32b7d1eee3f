/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the access model from the external API contract. Field names are
  camelCase to match the existing web client.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Auth:     LoginRequest, LoginResponse
  Catalog:  ModuleDTO, AccessDTO
  Requests: CreateRequestRequest, CreateRequestResponse, CancelRequestRequest,
            RenewRequest, RequestSummaryDTO, RequestDetailsDTO, PagedResponse
  Demo:     ScenarioDTO, LoadScenarioRequest
  Misc:     UptimeResponse, ErrorResponse

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/access-engine/access"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Name        string `json:"name"`
	Email       string `json:"email"`
}

// =============================================================================
// CATALOG
// =============================================================================

// ModuleDTO represents a catalog module in API responses.
type ModuleDTO struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	AllowedDepartments  []string `json:"allowedDepartments"`
	IncompatibleModules []string `json:"incompatibleModules"`
	Active              bool     `json:"active"`
}

// AccessDTO represents an active grant in API responses.
type AccessDTO struct {
	ModuleID        string    `json:"moduleId"`
	Status          string    `json:"status"`
	GrantedAt       time.Time `json:"grantedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	RequestProtocol string    `json:"requestProtocol"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateRequestRequest struct {
	Modules       []string `json:"modules"`
	Justification string   `json:"justification"`
	Urgent        bool     `json:"urgent"`
}

// CreateRequestResponse is returned by create and renew, approved or denied.
type CreateRequestResponse struct {
	Protocol     string `json:"protocol"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	DenialReason string `json:"denialReason,omitempty"`
}

type CancelRequestRequest struct {
	Reason string `json:"reason"`
}

type RenewRequest struct {
	RequestProtocol string `json:"requestProtocol"`
}

// RequestSummaryDTO is one row of a search result.
type RequestSummaryDTO struct {
	Protocol      string    `json:"protocol"`
	Modules       []string  `json:"modules"`
	Status        string    `json:"status"`
	Justification string    `json:"justification"`
	Urgent        bool      `json:"urgent"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DenialReason  string    `json:"denialReason,omitempty"`
}

// HistoryEntryDTO is one step of a request's audit trail.
type HistoryEntryDTO struct {
	Date   time.Time `json:"date"`
	Action string    `json:"action"`
}

// RequestDetailsDTO is the full view of one request.
type RequestDetailsDTO struct {
	Protocol       string            `json:"protocol"`
	UserID         string            `json:"userId"`
	UserDepartment string            `json:"userDepartment"`
	Modules        []string          `json:"modules"`
	Justification  string            `json:"justification"`
	Urgent         bool              `json:"urgent"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	DenialReason   string            `json:"denialReason,omitempty"`
	History        []HistoryEntryDTO `json:"history"`
}

// PagedResponse wraps one page of results.
type PagedResponse[T any] struct {
	Content       []T `json:"content"`
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Login       string `json:"login"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// MISC
// =============================================================================

type UptimeResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
	UptimeFormatted string `json:"uptimeFormatted"`
	StartTime       string `json:"startTime"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toModuleDTO(m access.Module) ModuleDTO {
	return ModuleDTO{
		ID:                  m.ID,
		Name:                m.Name,
		Description:         m.Description,
		AllowedDepartments:  nonNil(m.AllowedDepartments),
		IncompatibleModules: nonNil(m.IncompatibleModules),
		Active:              m.Active,
	}
}

func toAccessDTO(a access.Access) AccessDTO {
	return AccessDTO{
		ModuleID:        a.ModuleID,
		Status:          string(a.Status),
		GrantedAt:       a.GrantedAt,
		ExpiresAt:       a.ExpiresAt,
		RequestProtocol: a.RequestProtocol,
	}
}

func toSummaryDTO(r access.Request) RequestSummaryDTO {
	return RequestSummaryDTO{
		Protocol:      r.Protocol,
		Modules:       nonNil(r.Modules),
		Status:        string(r.Status),
		Justification: r.Justification,
		Urgent:        r.Urgent,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		DenialReason:  r.DenialReason,
	}
}

func toDetailsDTO(r access.Request) RequestDetailsDTO {
	history := make([]HistoryEntryDTO, len(r.History))
	for i, h := range r.History {
		history[i] = HistoryEntryDTO{Date: h.At, Action: h.Action}
	}
	return RequestDetailsDTO{
		Protocol:       r.Protocol,
		UserID:         r.UserID,
		UserDepartment: r.UserDepartment,
		Modules:        nonNil(r.Modules),
		Justification:  r.Justification,
		Urgent:         r.Urgent,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		DenialReason:   r.DenialReason,
		History:        history,
	}
}

func toCreateResponse(res access.Result) CreateRequestResponse {
	r := res.Request
	resp := CreateRequestResponse{
		Protocol: r.Protocol,
		Status:   string(r.Status),
	}
	if res.Approved() {
		resp.Message = "Solicitação criada com sucesso! Protocolo: " + r.Protocol + ". Seus acessos já estão disponíveis!"
	} else {
		resp.DenialReason = r.DenialReason
		resp.Message = "Solicitação negada. Motivo: " + r.DenialReason
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
