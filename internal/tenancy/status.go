package tenancy

import "dues-service/internal/model"

// transitions lists the permitted lifecycle edges
var transitions = map[model.TenantStatus][]model.TenantStatus{
	model.TenantPending:  {model.TenantActive, model.TenantRejected},
	model.TenantActive:   {model.TenantInactive, model.TenantArchived},
	model.TenantInactive: {model.TenantActive, model.TenantArchived},
	model.TenantArchived: {model.TenantActive},
}

// CanTransition reports whether a tenant may move from one status to another
func CanTransition(from, to model.TenantStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known lifecycle status
func ValidStatus(s model.TenantStatus) bool {
	switch s {
	case model.TenantPending, model.TenantActive, model.TenantInactive, model.TenantRejected, model.TenantArchived:
		return true
	}
	return false
}
