package domain

import "time"

// RequestType enumerates service request categories.
type RequestType string

const (
	RequestTypeHardware RequestType = "HARDWARE"
	RequestTypeSoftware RequestType = "SOFTWARE"
	RequestTypeAccess   RequestType = "ACCESS"
	RequestTypeGeneral  RequestType = "GENERAL"
)

// Valid reports whether the type is a known request category.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeHardware, RequestTypeSoftware, RequestTypeAccess, RequestTypeGeneral:
		return true
	}
	return false
}

// RequestStatus enumerates lifecycle states for requests.
type RequestStatus string

const (
	RequestStatusPendingApproval RequestStatus = "PENDING_APPROVAL"
	RequestStatusApproved        RequestStatus = "APPROVED"
	RequestStatusRejected        RequestStatus = "REJECTED"
)

// Terminal reports whether no further transition is modeled.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// ApprovalStatus enumerates the states of a single approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// ValidDecision reports whether the status can be recorded as an approver decision.
func (s ApprovalStatus) ValidDecision() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// Request is the aggregate for employee service requests.
type Request struct {
	ID            string
	Number        string
	Type          RequestType
	Subject       string
	Description   string
	Justification string
	Details       RequestDetails
	Status        RequestStatus
	RequestorID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RequestApproval is one position of a request's approval chain.
type RequestApproval struct {
	ID         string
	RequestID  string
	ApproverID string
	Level      int
	Status     ApprovalStatus
	Comments   *string
	DecidedAt  *time.Time
	CreatedAt  time.Time
}

// DeriveRequestStatus computes a request status from its approval chain.
// Any rejection wins; an empty chain stays pending.
func DeriveRequestStatus(approvals []RequestApproval) RequestStatus {
	if len(approvals) == 0 {
		return RequestStatusPendingApproval
	}
	allApproved := true
	for _, approval := range approvals {
		switch approval.Status {
		case ApprovalStatusRejected:
			return RequestStatusRejected
		case ApprovalStatusApproved:
		default:
			allApproved = false
		}
	}
	if allApproved {
		return RequestStatusApproved
	}
	return RequestStatusPendingApproval
}
