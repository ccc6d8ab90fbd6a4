package tenancy

import (
	"errors"
	"fmt"
	"testing"

	"dues-service/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestTenantErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	tenant := &model.Tenant{ID: "t1", Name: "Acme", Slug: "acme", Status: model.TenantActive}

	err := fmt.Errorf("resolve: %w", storageError(tenant, tenant.StorageID, cause))

	assert.ErrorIs(t, err, ErrTenantStorage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTenantNotFound)

	var te *TenantError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "Acme", te.TenantName)
	assert.Equal(t, "tenant_storage", KindName(err))
}

func TestRejectedErrorCarriesReason(t *testing.T) {
	tenant := &model.Tenant{ID: "t1", Slug: "acme", Status: model.TenantRejected, RejectionReason: "duplicate registration"}

	err := tenantError(ErrTenantRejected, tenant, nil)

	assert.Equal(t, "duplicate registration", err.Reason)
	assert.Equal(t, "tenant registration was rejected (acme): duplicate registration", err.Error())
}
