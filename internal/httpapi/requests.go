package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"servicedesk/internal/models"
	"servicedesk/internal/store"
)

const maxBodyBytes = 1 << 20

var errInvalidJSON = errors.New("invalid JSON payload")

type validator interface {
	normalize()
	validate() error
}

// decodeRequest reads a JSON body into target, trims it and validates it.
// An empty body decodes to the zero value when allowEmpty is set.
func decodeRequest(r *http.Request, target validator, allowEmpty bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return errInvalidJSON
		}
	}
	target.normalize()
	return target.validate()
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func optionalUUID(field, value string) error {
	if value != "" && !isValidUUID(value) {
		return store.Invalid(field, "must be a UUID")
	}
	return nil
}

func requiredUUID(field, value string) error {
	if value == "" {
		return store.Invalid(field, "is required")
	}
	return optionalUUID(field, value)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *loginRequest) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *loginRequest) validate() error {
	if r.Email == "" {
		return store.Invalid("email", "is required")
	}
	if r.Password == "" {
		return store.Invalid("password", "is required")
	}
	return nil
}

type kioskTicketRequest struct {
	RequestID  string `json:"request_id"`
	ServiceID  string `json:"service_id"`
	CustomerID string `json:"customer_id"`
}

func (r *kioskTicketRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.CustomerID = strings.TrimSpace(r.CustomerID)
}

func (r *kioskTicketRequest) validate() error {
	return errors.Join(
		requiredUUID("request_id", r.RequestID),
		requiredUUID("service_id", r.ServiceID),
		optionalUUID("customer_id", r.CustomerID),
	)
}

type createTicketRequest struct {
	RequestID  string `json:"request_id"`
	Kind       string `json:"kind"`
	ServiceID  string `json:"service_id"`
	CustomerID string `json:"customer_id"`
	Title      string `json:"title"`
	Notes      string `json:"notes"`
}

func (r *createTicketRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.Title = strings.TrimSpace(r.Title)
	r.Notes = strings.TrimSpace(r.Notes)
	if r.Kind == "" {
		r.Kind = models.KindQueue
	}
}

func (r *createTicketRequest) validate() error {
	if err := errors.Join(
		requiredUUID("request_id", r.RequestID),
		requiredUUID("service_id", r.ServiceID),
		optionalUUID("customer_id", r.CustomerID),
	); err != nil {
		return err
	}
	switch r.Kind {
	case models.KindQueue:
	case models.KindSupport:
		if r.Title == "" {
			return store.Invalid("title", "is required for support tickets")
		}
	default:
		return store.Invalid("kind", "must be queue or support")
	}
	if len(r.Title) > 200 {
		return store.Invalid("title", "must be at most 200 characters")
	}
	return nil
}

type updateStatusRequest struct {
	RequestID      string `json:"request_id"`
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	Notes          string `json:"notes"`
	Reason         string `json:"reason"`
}

func (r *updateStatusRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Status = strings.TrimSpace(r.Status)
	r.ExpectedStatus = strings.TrimSpace(r.ExpectedStatus)
	r.Notes = strings.TrimSpace(r.Notes)
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *updateStatusRequest) validate() error {
	if err := optionalUUID("request_id", r.RequestID); err != nil {
		return err
	}
	if r.Status == "" {
		return store.Invalid("status", "is required")
	}
	if !models.KnownStatus(r.Status) {
		return store.Invalid("status", fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.ExpectedStatus != "" && !models.KnownStatus(r.ExpectedStatus) {
		return store.Invalid("expected_status", fmt.Sprintf("unknown status %q", r.ExpectedStatus))
	}
	// Notes and reason are checked by store.Plan once the ticket state is
	// known, so a terminal ticket reports invalid_transition first.
	return nil
}

type claimRequest struct {
	RequestID string `json:"request_id"`
}

func (r *claimRequest) normalize() { r.RequestID = strings.TrimSpace(r.RequestID) }

func (r *claimRequest) validate() error { return optionalUUID("request_id", r.RequestID) }

type followUpRequest struct {
	RequestID string `json:"request_id"`
	Notes     string `json:"notes"`
}

func (r *followUpRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *followUpRequest) validate() error { return optionalUUID("request_id", r.RequestID) }
