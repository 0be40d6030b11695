package orders

import (
	"fmt"
	"slices"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
)

type Status uint8

const (
	StatusPending Status = iota + 1
	StatusConfirmed
	StatusProcessing
	StatusShipped
	StatusDelivered
	StatusCancelled
	StatusRejected
	StatusReturned
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusConfirmed:  "confirmed",
	StatusProcessing: "processing",
	StatusShipped:    "shipped",
	StatusDelivered:  "delivered",
	StatusCancelled:  "cancelled",
	StatusRejected:   "rejected",
	StatusReturned:   "returned",
	StatusRefunded:   "refunded",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the zero Status (no previous status) as "".
func (s Status) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(s string) (Status, error) {
	for k, n := range statusNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("orders: unknown status %q", s)
}

// PaymentStatus mirrors the payment record onto the order for listing and stats.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPending           PaymentStatus = "pending"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)

// Paid reports whether money was captured at some point.
func (p PaymentStatus) Paid() bool {
	switch p {
	case PaymentCompleted, PaymentPartiallyRefunded, PaymentRefunded:
		return true
	}
	return false
}

// Effect is the inventory side effect of a transition.
type Effect uint8

const (
	EffectNone Effect = iota
	EffectCommit
	EffectRelease
)

type rule struct {
	roles            []auth.Role
	requiresShipment bool
	effect           Effect
}

type edge struct{ from, to Status }

var (
	sellerOps = []auth.Role{auth.RoleSeller, auth.RoleAdmin}
	buyerOps  = []auth.Role{auth.RoleBuyer, auth.RoleAdmin}
)

// transitions is the whole lifecycle. Anything not listed is invalid.
var transitions = map[edge]rule{
	{StatusPending, StatusConfirmed}:    {roles: []auth.Role{auth.RoleSeller, auth.RoleSystem, auth.RoleAdmin}},
	{StatusConfirmed, StatusProcessing}: {roles: sellerOps},
	{StatusProcessing, StatusShipped}:   {roles: sellerOps, requiresShipment: true},
	{StatusShipped, StatusDelivered}:    {roles: []auth.Role{auth.RoleAdmin, auth.RoleSystem}, effect: EffectCommit},

	{StatusPending, StatusCancelled}:    {roles: buyerOps, effect: EffectRelease},
	{StatusConfirmed, StatusCancelled}:  {roles: buyerOps, effect: EffectRelease},
	{StatusProcessing, StatusCancelled}: {roles: buyerOps, effect: EffectRelease},

	{StatusPending, StatusRejected}:   {roles: sellerOps, effect: EffectRelease},
	{StatusConfirmed, StatusRejected}: {roles: sellerOps, effect: EffectRelease},

	{StatusDelivered, StatusReturned}: {roles: []auth.Role{auth.RoleBuyer}},
	{StatusReturned, StatusRefunded}:  {roles: []auth.Role{auth.RoleSystem, auth.RoleAdmin}},
}

func (r rule) allows(role auth.Role) bool { return slices.Contains(r.roles, role) }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	for e := range transitions {
		if e.from == s {
			return false
		}
	}
	return true
}

// Next lists the statuses reachable from s by role, in lifecycle order.
func Next(s Status, role auth.Role) []Status {
	var out []Status
	for e, r := range transitions {
		if e.from == s && r.allows(role) {
			out = append(out, e.to)
		}
	}
	slices.Sort(out)
	return out
}
