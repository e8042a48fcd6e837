package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidOwner         = errors.New("invalid_owner")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidChat          = errors.New("invalid_chat")
	ErrInvalidExpiry        = errors.New("invalid_expiry")
	ErrMissingPaymentIntent = errors.New("missing_payment_intent")
	ErrEntitlementNotFound  = errors.New("entitlement_not_found")
)

type InsertOutcome int

const (
	InsertOutcomeInserted InsertOutcome = iota + 1
	InsertOutcomeAlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case InsertOutcomeInserted:
		return "inserted"
	case InsertOutcomeAlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// InsertResult reports the row identified by the payment reference. A
// duplicate is a result, not an error.
type InsertResult struct {
	Outcome InsertOutcome
	ID      snowflake.ID
}

func (r InsertResult) Created() bool { return r.Outcome == InsertOutcomeInserted }

// ActiveFilter narrows FindActiveByOwner. A zero PlanID matches every plan.
type ActiveFilter struct {
	PlanID         PlanID
	UnassignedOnly bool
	PaidOnly       bool
}

type Repository interface {
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Entitlement, error)
	Insert(ctx context.Context, e *Entitlement) (InsertResult, error)
	FindActiveByOwner(ctx context.Context, owner Owner, filter ActiveFilter) ([]Entitlement, error)
	ListByOwner(ctx context.Context, owner Owner) ([]Entitlement, error)
	// UpdateStatus moves an active row to status. It reports false when the
	// row was no longer active.
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status) (bool, error)
	// ExpireDue moves every active subscription whose expiry is at or before
	// now to expired and returns how many rows changed.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	// AssignChat binds chatID to the row only if it is still unassigned.
	AssignChat(ctx context.Context, id snowflake.ID, chatID string) (bool, error)
	// ClaimForChat binds chatID to the newest unassigned active one-time row
	// of owner in a single statement. It claims nothing when owner already
	// has an active one-time row bound to chatID.
	ClaimForChat(ctx context.Context, owner Owner, chatID string) (snowflake.ID, bool, error)
	ReassignOwner(ctx context.Context, deviceID, userID string) (int64, error)
	LatestCustomerID(ctx context.Context, owner Owner) (string, error)
}
