package domain

// LifecycleKind names one of the closed set of tenant lifecycle events.
type LifecycleKind string

const (
	KindCreated    LifecycleKind = "tenant.created"
	KindReassigned LifecycleKind = "tenant.reassigned"
	KindRemoved    LifecycleKind = "tenant.removed"
)

// LifecycleEvent is implemented by TenantCreated, TenantReassigned and
// TenantRemoved only.
type LifecycleEvent interface {
	Kind() LifecycleKind
	Tenant() int64
	// Affected returns the associations whose beds and rooms must be
	// reconciled, previous before next.
	Affected() []Association
	sealed()
}

// TenantCreated reconciles the bed and room a new tenant was placed in.
type TenantCreated struct {
	TenantID int64
	Target   Association
	Status   TenantStatus
}

// TenantReassigned reconciles a move, a status change, or both.
type TenantReassigned struct {
	TenantID int64
	Previous Association
	Next     Association
	Status   TenantStatus
}

// TenantRemoved reconciles the bed and room a soft-deleted tenant left.
type TenantRemoved struct {
	TenantID int64
	Previous Association
}

func (TenantCreated) Kind() LifecycleKind    { return KindCreated }
func (TenantReassigned) Kind() LifecycleKind { return KindReassigned }
func (TenantRemoved) Kind() LifecycleKind    { return KindRemoved }

func (e TenantCreated) Tenant() int64    { return e.TenantID }
func (e TenantReassigned) Tenant() int64 { return e.TenantID }
func (e TenantRemoved) Tenant() int64    { return e.TenantID }

func (e TenantCreated) Affected() []Association { return []Association{e.Target} }

func (e TenantReassigned) Affected() []Association {
	if e.Previous == e.Next {
		return []Association{e.Next}
	}
	return []Association{e.Previous, e.Next}
}

func (e TenantRemoved) Affected() []Association { return []Association{e.Previous} }

func (TenantCreated) sealed()    {}
func (TenantReassigned) sealed() {}
func (TenantRemoved) sealed()    {}

// OccupancyChange is published after a lifecycle event commits.
type OccupancyChange struct {
	Kind           LifecycleKind
	Tenant         Tenant
	Reconciliation Reconciliation
}
