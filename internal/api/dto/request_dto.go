package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/ops-portal/internal/domain"
)

// CreateRequestRequest payload. Details are decoded against the schema of Type.
type CreateRequestRequest struct {
	Type          domain.RequestType `json:"type"`
	Subject       string             `json:"subject"`
	Description   string             `json:"description"`
	Justification string             `json:"justification"`
	Details       json.RawMessage    `json:"details"`
}

// DecisionRequest payload.
type DecisionRequest struct {
	Decision domain.ApprovalStatus `json:"decision"`
	Comments *string               `json:"comments"`
}

// ActorRefResponse is the minimal projection of a person.
type ActorRefResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ApprovalResponse is one level of the approval chain.
type ApprovalResponse struct {
	ID         string                `json:"id"`
	ApproverID string                `json:"approver_id"`
	Level      int                   `json:"level"`
	Status     domain.ApprovalStatus `json:"status"`
	Comments   *string               `json:"comments,omitempty"`
	DecidedAt  *time.Time            `json:"decided_at,omitempty"`
}

// RequestResponse is a request with its people and approval chain.
type RequestResponse struct {
	ID            string                `json:"id"`
	Number        string                `json:"number"`
	Type          domain.RequestType    `json:"type"`
	Subject       string                `json:"subject"`
	Description   string                `json:"description"`
	Justification string                `json:"justification"`
	Details       json.RawMessage       `json:"details"`
	Status        domain.RequestStatus  `json:"status"`
	RequestorID   string                `json:"requestor_id"`
	Requestor     *ActorRefResponse     `json:"requestor,omitempty"`
	Manager       *ActorRefResponse     `json:"manager,omitempty"`
	Approvals     []ApprovalResponse    `json:"approvals"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Involves reports whether the actor is the requestor or on the chain.
func (r RequestResponse) Involves(actorID string) bool {
	if r.RequestorID == actorID {
		return true
	}
	for _, approval := range r.Approvals {
		if approval.ApproverID == actorID {
			return true
		}
	}
	return false
}

// NewActorRefResponse projects an actor reference.
func NewActorRefResponse(ref *domain.ActorRef) *ActorRefResponse {
	if ref == nil {
		return nil
	}
	return &ActorRefResponse{ID: ref.ID, Name: ref.Name, Email: ref.Email}
}

// NewRequestResponse projects a request. Details are rendered to JSON once so
// the response survives a cache round trip unchanged.
func NewRequestResponse(request *domain.Request, requestor, manager *domain.ActorRef, approvals []domain.RequestApproval) (RequestResponse, error) {
	details, err := json.Marshal(request.Details)
	if err != nil {
		return RequestResponse{}, err
	}
	resp := RequestResponse{
		ID:            request.ID,
		Number:        request.Number,
		Type:          request.Type,
		Subject:       request.Subject,
		Description:   request.Description,
		Justification: request.Justification,
		Details:       details,
		Status:        request.Status,
		RequestorID:   request.RequestorID,
		Requestor:     NewActorRefResponse(requestor),
		Manager:       NewActorRefResponse(manager),
		Approvals:     make([]ApprovalResponse, 0, len(approvals)),
		CreatedAt:     request.CreatedAt,
		UpdatedAt:     request.UpdatedAt,
	}
	for _, approval := range approvals {
		resp.Approvals = append(resp.Approvals, ApprovalResponse{
			ID:         approval.ID,
			ApproverID: approval.ApproverID,
			Level:      approval.Level,
			Status:     approval.Status,
			Comments:   approval.Comments,
			DecidedAt:  approval.DecidedAt,
		})
	}
	return resp, nil
}
