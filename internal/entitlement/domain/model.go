package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Entitlement is a persisted grant of access tied to exactly one confirmed
// payment. Exactly one of DeviceID and UserID is set.
type Entitlement struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	DeviceID              *string           `json:"device_id,omitempty" gorm:"type:text;index;check:entitlements_owner_chk,(device_id IS NULL) <> (user_id IS NULL)"`
	UserID                *string           `json:"user_id,omitempty" gorm:"type:text;index"`
	PlanID                PlanID            `json:"plan_id" gorm:"type:varchar(16);not null"`
	StripePaymentIntentID string            `json:"stripe_payment_intent_id" gorm:"type:text;uniqueIndex"`
	StripeCustomerID      *string           `json:"stripe_customer_id,omitempty" gorm:"type:text"`
	Status                Status            `json:"status" gorm:"type:varchar(16);not null"`
	PurchasedAt           time.Time         `json:"purchased_at" gorm:"not null"`
	ExpiresAt             *time.Time        `json:"expires_at,omitempty"`
	ChatID                *string           `json:"chat_id,omitempty" gorm:"type:text"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"not null"`
}

func (Entitlement) TableName() string { return "entitlements" }

func (e *Entitlement) Owner() Owner {
	if e.UserID != nil && *e.UserID != "" {
		return UserOwner(*e.UserID)
	}
	if e.DeviceID != nil {
		return DeviceOwner(*e.DeviceID)
	}
	return Owner{}
}

func (e *Entitlement) SetOwner(o Owner) {
	id := o.ID
	switch o.Kind {
	case OwnerDevice:
		e.DeviceID, e.UserID = &id, nil
	case OwnerUser:
		e.DeviceID, e.UserID = nil, &id
	}
}

// Paid reports whether the row carries a confirmed payment reference. Rows
// without one never grant access.
func (e *Entitlement) Paid() bool {
	return e.StripePaymentIntentID != ""
}

func (e *Entitlement) Assigned() bool {
	return e.ChatID != nil && *e.ChatID != ""
}

// Summary is a compact view used for logging and listings.
type Summary struct {
	ID        snowflake.ID `json:"id"`
	PlanID    PlanID       `json:"plan_id"`
	Status    Status       `json:"status"`
	ChatID    string       `json:"chat_id,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

func (e *Entitlement) Summary() Summary {
	s := Summary{ID: e.ID, PlanID: e.PlanID, Status: e.Status, ExpiresAt: e.ExpiresAt}
	if e.ChatID != nil {
		s.ChatID = *e.ChatID
	}
	return s
}
