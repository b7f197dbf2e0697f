package domain

// Owner is either TenantWide or Personal. The set is closed: only this
// package can add variants.
type Owner interface {
	// AgentID returns the owning agent, or "" for tenant-wide definitions.
	AgentID() string
	isOwner()
}

// TenantWide marks a default definition shared by every agent of the tenant.
type TenantWide struct{}

// AgentID implements Owner.
func (TenantWide) AgentID() string { return "" }
func (TenantWide) isOwner()        {}

// Personal marks an agent's own definition, usually a copy-on-write override.
type Personal struct {
	Agent string
}

// AgentID implements Owner.
func (p Personal) AgentID() string { return p.Agent }
func (Personal) isOwner()          {}

// OwnerFromID maps a stored owner column to its variant.
func OwnerFromID(agentID string) Owner {
	if agentID == "" {
		return TenantWide{}
	}
	return Personal{Agent: agentID}
}

// IsTenantWide reports whether o is the tenant-wide variant.
func IsTenantWide(o Owner) bool {
	_, ok := o.(TenantWide)
	return ok
}

// OwnedBy reports whether o is a personal owner for agentID.
func OwnedBy(o Owner, agentID string) bool {
	p, ok := o.(Personal)
	return ok && agentID != "" && p.Agent == agentID
}
