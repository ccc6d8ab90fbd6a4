package tenancy

import (
	"errors"
	"fmt"
	"strings"

	"dues-service/internal/model"
)

// Error kinds. Match them with errors.Is.
var (
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrTenantGone             = errors.New("tenant has been deleted")
	ErrTenantRejected         = errors.New("tenant registration was rejected")
	ErrTenantInactive         = errors.New("tenant is not active")
	ErrTenantStorage          = errors.New("tenant storage unavailable")
	ErrInvalidStateTransition = errors.New("invalid tenant state transition")
	ErrConflict               = errors.New("conflict")
	ErrTenantReadOnly         = errors.New("tenant is pending approval and read-only")
	ErrSystemPrincipal        = errors.New("operation requires a tenant-bound principal")
	ErrNotFound               = errors.New("record not found")
	ErrValidation             = errors.New("validation failed")
	ErrPoolClosed             = errors.New("partition pool is closed")
)

// TenantError carries the error kind together with enough tenant detail to
// render a message without another registry lookup.
type TenantError struct {
	Kind       error
	TenantID   string
	TenantName string
	Slug       string
	Status     model.TenantStatus
	Reason     string
	Err        error
}

func (e *TenantError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Slug != "" {
		fmt.Fprintf(&b, " (%s)", e.Slug)
	} else if e.TenantID != "" {
		fmt.Fprintf(&b, " (%s)", e.TenantID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TenantError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func tenantError(kind error, t *model.Tenant, err error) *TenantError {
	te := &TenantError{Kind: kind, Err: err}
	if t != nil {
		te.TenantID = t.ID
		te.TenantName = t.Name
		te.Slug = t.Slug
		te.Status = t.Status
		if kind == ErrTenantRejected {
			te.Reason = t.RejectionReason
		}
	}
	return te
}

func storageError(t *model.Tenant, storageID string, err error) *TenantError {
	te := tenantError(ErrTenantStorage, t, err)
	if t == nil {
		te.Slug = storageID
	}
	return te
}

// KindName returns a stable label for err, used in metrics and responses.
func KindName(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, ErrTenantGone):
		return "tenant_gone"
	case errors.Is(err, ErrTenantRejected):
		return "tenant_rejected"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_inactive"
	case errors.Is(err, ErrTenantStorage):
		return "tenant_storage"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTenantReadOnly):
		return "tenant_read_only"
	case errors.Is(err, ErrSystemPrincipal):
		return "system_principal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
