package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type AssignResult struct {
	// Assigned is true when this call bound an entitlement to the chat.
	Assigned bool
	// AlreadyBound is true when the owner already held a one-time
	// entitlement for the chat, so nothing was claimed.
	AlreadyBound  bool
	EntitlementID snowflake.ID
}

type Assigner struct {
	repo   domain.Repository
	log    *zap.Logger
	tracer trace.Tracer
}

func NewAssigner(p Params) *Assigner {
	return &Assigner{
		repo:   p.Repo,
		log:    p.Log.Named("entitlement.assignment"),
		tracer: p.tracer(),
	}
}

// AssignToChat binds one unassigned one-time entitlement of owner to chatID.
// Finding nothing to claim is not an error: the grant that preceded the call
// may have come from a subscription.
func (a *Assigner) AssignToChat(ctx context.Context, owner domain.Owner, chatID string) (AssignResult, error) {
	ctx, span := a.tracer.Start(ctx, "entitlement.AssignToChat")
	defer span.End()

	if err := owner.Validate(); err != nil {
		return AssignResult{}, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return AssignResult{}, domain.ErrInvalidChat
	}

	if bound, err := a.boundTo(ctx, owner, chatID); err != nil || bound != nil {
		return boundResult(bound), err
	}

	id, ok, err := a.repo.ClaimForChat(ctx, owner, chatID)
	if err != nil {
		span.RecordError(err)
		return AssignResult{}, err
	}
	span.SetAttributes(attribute.Bool("assignment.claimed", ok))
	if !ok {
		// A concurrent call may have bound the chat between the read and the claim.
		bound, err := a.boundTo(ctx, owner, chatID)
		if err != nil || bound != nil {
			return boundResult(bound), err
		}
		a.log.Debug("no unassigned entitlement to claim",
			zap.String("owner", owner.String()),
			zap.String("chat_id", chatID))
		return AssignResult{}, nil
	}

	a.log.Info("entitlement assigned to chat",
		zap.Int64("entitlement_id", id.Int64()),
		zap.String("owner", owner.String()),
		zap.String("chat_id", chatID))
	return AssignResult{Assigned: true, EntitlementID: id}, nil
}

// boundTo returns the active one-time entitlement of owner already bound to
// chatID, if any.
func (a *Assigner) boundTo(ctx context.Context, owner domain.Owner, chatID string) (*domain.Entitlement, error) {
	rows, err := a.repo.FindActiveByOwner(ctx, owner, domain.ActiveFilter{
		PlanID:   domain.PlanOneTime,
		PaidOnly: true,
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].ChatID != nil && *rows[i].ChatID == chatID {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func boundResult(e *domain.Entitlement) AssignResult {
	if e == nil {
		return AssignResult{}
	}
	return AssignResult{AlreadyBound: true, EntitlementID: e.ID}
}
