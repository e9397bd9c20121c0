package rbac

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"partner_portal/internal/models"
)

var ErrForbidden = errors.New("forbidden")

// Scope is the row-visibility restriction derived from a user. Queries
// against partner-owned collections go through Filter so that a partner
// user can only ever match rows carrying its own partnerId.
type Scope struct {
	Role      models.Role
	PartnerID string
}

func ScopeFor(u models.User) Scope {
	return Scope{Role: u.Role, PartnerID: u.PartnerID}
}

// Global reports whether the scope sees every partner.
func (s Scope) Global() bool {
	return s.Role == models.RoleAdmin || s.Role == models.RoleTransferz
}

func (s Scope) restricted() bool {
	return s.Role == models.RolePartner && s.PartnerID != ""
}

// Filter narrows base to the rows the scope may see in a partner-owned
// collection.
func (s Scope) Filter(base bson.M) (bson.M, error) {
	switch {
	case s.Global():
		return clone(base), nil
	case s.restricted():
		return and(base, bson.M{"partnerId": s.PartnerID}), nil
	}
	return nil, ErrForbidden
}

// SharedFilter is Filter for collections where an empty partnerId marks a
// row shared with every partner.
func (s Scope) SharedFilter(base bson.M) (bson.M, error) {
	switch {
	case s.Global():
		return clone(base), nil
	case s.restricted():
		return and(base, bson.M{"partnerId": bson.M{"$in": bson.A{"", s.PartnerID}}}), nil
	}
	return nil, ErrForbidden
}

// Owns mirrors Filter for a single row.
func (s Scope) Owns(partnerID string) bool {
	if s.Global() {
		return true
	}
	return s.restricted() && partnerID == s.PartnerID
}

// Shares mirrors SharedFilter for a single row.
func (s Scope) Shares(partnerID string) bool {
	if s.Global() {
		return true
	}
	return s.restricted() && (partnerID == "" || partnerID == s.PartnerID)
}

func clone(m bson.M) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func and(base, restrict bson.M) bson.M {
	if len(base) == 0 {
		return restrict
	}
	return bson.M{"$and": bson.A{clone(base), restrict}}
}
