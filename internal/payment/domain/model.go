package domain

import "strings"

const (
	EventTypePaymentIntentSucceeded = "payment_intent.succeeded"
	PaymentIntentStatusSucceeded    = "succeeded"
)

// Reconciliation metadata keys. The webhook learns what to create only
// through these.
const (
	MetadataPlanID   = "planId"
	MetadataDeviceID = "deviceId"
	MetadataUserID   = "userId"
	MetadataChatID   = "chatId"
)

// IntentRequest is the issuer input. Amounts are in minor units.
type IntentRequest struct {
	Amount         int64   `json:"amount" validate:"amount"`
	Currency       string  `json:"currency" validate:"required,currency"`
	PlanID         string  `json:"planId" validate:"required,plan"`
	DeviceID       string  `json:"deviceId" validate:"required,uuid"`
	UserID         string  `json:"userId,omitempty" validate:"omitempty,uuid"`
	ChatID         *string `json:"chatId,omitempty" validate:"omitnil,nonblank"`
	IdempotencyKey string  `json:"idempotencyKey,omitempty"`
}

func (r IntentRequest) Identifier() string {
	if strings.TrimSpace(r.UserID) != "" {
		return strings.TrimSpace(r.UserID)
	}
	return strings.TrimSpace(r.DeviceID)
}

// IntentResponse never carries provider secret keys. ClientSecret and
// EphemeralKeySecret are scoped client credentials.
type IntentResponse struct {
	ClientSecret       string `json:"paymentIntent"`
	EphemeralKeySecret string `json:"ephemeralKey"`
	CustomerID         string `json:"customer"`
	PaymentIntentID    string `json:"paymentIntentId"`
}

type VerifyRequest struct {
	PaymentIntentID string  `json:"paymentIntentId" validate:"required,nonblank"`
	DeviceID        string  `json:"deviceId" validate:"required,uuid"`
	PlanID          string  `json:"planId" validate:"required,plan"`
	ChatID          *string `json:"chatId,omitempty" validate:"omitnil,nonblank"`
}

// VerifyResult is a normal response even when Success is false: a payment
// that has not settled yet is reported, not raised.
type VerifyResult struct {
	Success            bool   `json:"success"`
	EntitlementExists  bool   `json:"entitlementExists,omitempty"`
	EntitlementCreated bool   `json:"entitlementCreated,omitempty"`
	Reason             string `json:"reason,omitempty"`
	Status             string `json:"status,omitempty"`
}

// WebhookOutcome describes what a delivery did. Every outcome is a 200.
type WebhookOutcome string

const (
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeCreated   WebhookOutcome = "created"
)
