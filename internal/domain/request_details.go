package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RequestDetails is the per-type structured payload of a request.
type RequestDetails interface {
	RequestType() RequestType
	// Validate returns field problems keyed by JSON field name.
	Validate() map[string]string
}

// HardwareDetails describes a hardware purchase request.
type HardwareDetails struct {
	Item          string   `json:"item"`
	Quantity      int      `json:"quantity"`
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
}

func (HardwareDetails) RequestType() RequestType { return RequestTypeHardware }

func (d HardwareDetails) Validate() map[string]string {
	problems := map[string]string{}
	if strings.TrimSpace(d.Item) == "" {
		problems["item"] = "required"
	}
	if d.Quantity < 1 {
		problems["quantity"] = "must be at least 1"
	}
	if d.EstimatedCost != nil && *d.EstimatedCost < 0 {
		problems["estimated_cost"] = "must not be negative"
	}
	return problems
}

// SoftwareDetails describes a software license request.
type SoftwareDetails struct {
	Product      string `json:"product"`
	LicenseCount int    `json:"license_count"`
	Vendor       string `json:"vendor,omitempty"`
}

func (SoftwareDetails) RequestType() RequestType { return RequestTypeSoftware }

func (d SoftwareDetails) Validate() map[string]string {
	problems := map[string]string{}
	if strings.TrimSpace(d.Product) == "" {
		problems["product"] = "required"
	}
	if d.LicenseCount < 1 {
		problems["license_count"] = "must be at least 1"
	}
	return problems
}

// AccessLevel enumerates requested permission levels.
type AccessLevel string

const (
	AccessLevelRead  AccessLevel = "READ"
	AccessLevelWrite AccessLevel = "WRITE"
	AccessLevelAdmin AccessLevel = "ADMIN"
)

// AccessDetails describes a system access request.
type AccessDetails struct {
	System      string      `json:"system"`
	AccessLevel AccessLevel `json:"access_level"`
	ExpiresOn   *time.Time  `json:"expires_on,omitempty"`
}

func (AccessDetails) RequestType() RequestType { return RequestTypeAccess }

func (d AccessDetails) Validate() map[string]string {
	problems := map[string]string{}
	if strings.TrimSpace(d.System) == "" {
		problems["system"] = "required"
	}
	switch d.AccessLevel {
	case AccessLevelRead, AccessLevelWrite, AccessLevelAdmin:
	default:
		problems["access_level"] = "must be one of READ, WRITE, ADMIN"
	}
	return problems
}

// GeneralDetails carries an optional free-form note for uncategorized requests.
type GeneralDetails struct {
	Note string `json:"note,omitempty"`
}

func (GeneralDetails) RequestType() RequestType { return RequestTypeGeneral }

func (GeneralDetails) Validate() map[string]string { return map[string]string{} }

// ErrDetailsRequired is returned when a typed request carries no details payload.
var ErrDetailsRequired = errors.New("details required for request type")

// DecodeRequestDetails decodes raw JSON into the variant selected by t.
// Unknown fields are rejected.
func DecodeRequestDetails(t RequestType, raw json.RawMessage) (RequestDetails, error) {
	trimmed := bytes.TrimSpace(raw)
	empty := len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
	switch t {
	case RequestTypeHardware:
		if empty {
			return nil, ErrDetailsRequired
		}
		var d HardwareDetails
		if err := decodeStrict(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case RequestTypeSoftware:
		if empty {
			return nil, ErrDetailsRequired
		}
		var d SoftwareDetails
		if err := decodeStrict(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case RequestTypeAccess:
		if empty {
			return nil, ErrDetailsRequired
		}
		var d AccessDetails
		if err := decodeStrict(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case RequestTypeGeneral:
		var d GeneralDetails
		if empty {
			return d, nil
		}
		if err := decodeStrict(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown request type %q", t)
	}
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode details: %w", err)
	}
	return nil
}
