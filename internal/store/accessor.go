package store

import (
	"fmt"

	"dues-service/internal/model"
	"dues-service/internal/tenancy"
	"dues-service/pkg/config"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"
)

// Models is the set of entity accessors bound to one tenant
type Models struct {
	TenantID string
	ReadOnly bool

	Member           *MemberRepository
	Payment          *Repository[model.PaymentHistory, *model.PaymentHistory]
	Subgroup         *SubgroupRepository
	Contribution     *ContributionRepository
	ContributionType *ContributionTypeRepository
	Expenditure      *Repository[model.Expenditure, *model.Expenditure]
	Receipt          *Repository[model.Receipt, *model.Receipt]
	Reminder         *ReminderRepository
	ActivityLog      *Repository[model.ActivityLog, *model.ActivityLog]
}

// Accessor turns a resolved tenant context into entity accessors. Exactly
// one implementation is chosen at start-up from the tenancy strategy.
type Accessor interface {
	Models(tc *tenancy.Context) (*Models, error)
	Strategy() string
}

// NewAccessor returns the accessor for strategy. shared is the database
// holding every tenant's rows and is only used by the shared strategy.
func NewAccessor(strategy string, shared *gorm.DB, codes MemberCodeSource, clk clock.Clock) (Accessor, error) {
	if clk == nil {
		clk = clock.New()
	}
	switch strategy {
	case config.StrategyDatabase:
		return &PartitionAccessor{codes: codes, clock: clk}, nil
	case config.StrategyShared:
		if shared == nil {
			return nil, fmt.Errorf("shared strategy requires a database")
		}
		return &SharedAccessor{db: shared, codes: codes, clock: clk}, nil
	default:
		return nil, fmt.Errorf("unknown tenancy strategy %q", strategy)
	}
}

// PartitionAccessor serves models from the tenant's own database handle
type PartitionAccessor struct {
	codes MemberCodeSource
	clock clock.Clock
}

func (a *PartitionAccessor) Strategy() string { return config.StrategyDatabase }

// Models binds the accessors to the handle held by tc
func (a *PartitionAccessor) Models(tc *tenancy.Context) (*Models, error) {
	s, err := scopeOf(tc)
	if err != nil {
		return nil, err
	}
	if tc.Handle == nil {
		return nil, &tenancy.TenantError{Kind: tenancy.ErrTenantStorage, TenantID: tc.TenantID(), Slug: tc.Tenant.Slug}
	}
	return build(tc.Handle.DB(), s, a.codes, a.clock), nil
}

// SharedAccessor serves every tenant from one database, filtering on tenant_id
type SharedAccessor struct {
	db    *gorm.DB
	codes MemberCodeSource
	clock clock.Clock
}

func (a *SharedAccessor) Strategy() string { return config.StrategyShared }

// Models binds the accessors to the shared database under tc's tenant
func (a *SharedAccessor) Models(tc *tenancy.Context) (*Models, error) {
	s, err := scopeOf(tc)
	if err != nil {
		return nil, err
	}
	return build(a.db, s, a.codes, a.clock), nil
}

func scopeOf(tc *tenancy.Context) (scope, error) {
	if tc == nil || tc.IsSystem() {
		return scope{}, tenancy.ErrSystemPrincipal
	}
	return scope{tenantID: tc.TenantID(), readOnly: tc.Limited}, nil
}

func build(db *gorm.DB, s scope, codes MemberCodeSource, clk clock.Clock) *Models {
	members := newMemberRepository(db, s, codes, clk)
	types := &ContributionTypeRepository{Repository: newRepository[model.ContributionType](db, s)}
	return &Models{
		TenantID:         s.tenantID,
		ReadOnly:         s.readOnly,
		Member:           members,
		Payment:          members.PaymentHistory(),
		Subgroup:         &SubgroupRepository{Repository: members.subgroups, members: members},
		ContributionType: types,
		Contribution: &ContributionRepository{
			Repository: newRepository[model.Contribution](db, s),
			types:      types,
			members:    members,
			clock:      clk,
			suffix:     members.suffix,
		},
		Expenditure: newRepository[model.Expenditure](db, s),
		Receipt:     newRepository[model.Receipt](db, s),
		Reminder:    &ReminderRepository{Repository: newRepository[model.Reminder](db, s), members: members, clock: clk},
		ActivityLog: newRepository[model.ActivityLog](db, s),
	}
}
