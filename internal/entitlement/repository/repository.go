package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolationCode = "23505"

type Params struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

type repo struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Repository {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &repo{db: p.DB, node: p.Node, clock: c}
}

func (r *repo) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Entitlement, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, domain.ErrMissingPaymentIntent
	}

	var row domain.Entitlement
	err := r.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Insert creates e unless a row already exists for its payment reference.
// The lookup is repeated after a conflict so concurrent writers for the same
// payment all observe the winning row's id.
func (r *repo) Insert(ctx context.Context, e *domain.Entitlement) (domain.InsertResult, error) {
	if err := validateNew(e); err != nil {
		return domain.InsertResult{}, err
	}

	existing, err := r.FindByPaymentIntentID(ctx, e.StripePaymentIntentID)
	if err != nil {
		return domain.InsertResult{}, err
	}
	if existing != nil {
		return domain.InsertResult{Outcome: domain.InsertOutcomeAlreadyExists, ID: existing.ID}, nil
	}

	if e.ID == 0 {
		e.ID = r.node.Generate()
	}
	if e.PurchasedAt.IsZero() {
		e.PurchasedAt = r.clock.Now(ctx)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_payment_intent_id"}},
			DoNothing: true,
		}).
		Create(e)
	if result.Error != nil {
		if !isUniqueViolation(result.Error) {
			return domain.InsertResult{}, fmt.Errorf("insert entitlement: %w", result.Error)
		}
	} else if result.RowsAffected > 0 {
		return domain.InsertResult{Outcome: domain.InsertOutcomeInserted, ID: e.ID}, nil
	}

	winner, err := r.FindByPaymentIntentID(ctx, e.StripePaymentIntentID)
	if err != nil {
		return domain.InsertResult{}, err
	}
	if winner == nil {
		return domain.InsertResult{}, fmt.Errorf("insert entitlement: conflicting row for %s not found", e.StripePaymentIntentID)
	}
	return domain.InsertResult{Outcome: domain.InsertOutcomeAlreadyExists, ID: winner.ID}, nil
}

func (r *repo) FindActiveByOwner(ctx context.Context, owner domain.Owner, filter domain.ActiveFilter) ([]domain.Entitlement, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).
		Where(owner.Column()+" = ?", owner.ID).
		Where("status = ?", domain.StatusActive)
	if filter.PlanID != "" {
		q = q.Where("plan_id = ?", filter.PlanID)
	}
	if filter.UnassignedOnly {
		q = q.Where("(chat_id IS NULL OR chat_id = '')")
	}
	if filter.PaidOnly {
		q = q.Where("stripe_payment_intent_id IS NOT NULL AND stripe_payment_intent_id <> ''")
	}

	var rows []domain.Entitlement
	if err := q.Order("purchased_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.Entitlement, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	var rows []domain.Entitlement
	err := r.db.WithContext(ctx).
		Where(owner.Column()+" = ?", owner.ID).
		Order("purchased_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpdateStatus(ctx context.Context, id snowflake.ID, status domain.Status) (bool, error) {
	if !status.Valid() || status == domain.StatusActive {
		return false, domain.ErrInvalidStatus
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Entitlement{}).
		Where("id = ? AND status = ?", id, domain.StatusActive).
		Updates(map[string]any{
			"status":     status,
			"updated_at": r.clock.Now(ctx),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Entitlement{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", domain.StatusActive, now).
		Where("plan_id IN ?", []domain.PlanID{domain.PlanWeekly, domain.PlanMonthly}).
		Updates(map[string]any{
			"status":     domain.StatusExpired,
			"updated_at": r.clock.Now(ctx),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) AssignChat(ctx context.Context, id snowflake.ID, chatID string) (bool, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return false, domain.ErrInvalidChat
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Entitlement{}).
		Where("id = ? AND plan_id = ? AND chat_id IS NULL", id, domain.PlanOneTime).
		Updates(map[string]any{
			"chat_id":    chatID,
			"updated_at": r.clock.Now(ctx),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClaimForChat(ctx context.Context, owner domain.Owner, chatID string) (snowflake.ID, bool, error) {
	if err := owner.Validate(); err != nil {
		return 0, false, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return 0, false, domain.ErrInvalidChat
	}

	col := owner.Column()
	stmt := `UPDATE entitlements
		SET chat_id = ?, updated_at = ?
		WHERE chat_id IS NULL AND id = (
			SELECT id FROM entitlements
			WHERE ` + col + ` = ?
			  AND plan_id = ?
			  AND status = ?
			  AND chat_id IS NULL
			  AND stripe_payment_intent_id IS NOT NULL
			  AND stripe_payment_intent_id <> ''
			ORDER BY purchased_at DESC, id DESC
			LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM entitlements bound
			WHERE bound.` + col + ` = ?
			  AND bound.plan_id = ?
			  AND bound.status = ?
			  AND bound.chat_id = ?
		)
		RETURNING id`

	var ids []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claims for one owner are serialized so the bound check above sees
		// any claim committed by a concurrent caller.
		if r.rowLocking() {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "claim:"+owner.String()).Error; err != nil {
				return err
			}
		}
		return tx.Raw(stmt,
			chatID, r.clock.Now(ctx),
			owner.ID, domain.PlanOneTime, domain.StatusActive,
			owner.ID, domain.PlanOneTime, domain.StatusActive, chatID,
		).Scan(&ids).Error
	})
	if err != nil {
		return 0, false, fmt.Errorf("claim entitlement: %w", err)
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return snowflake.ID(ids[0]), true, nil
}

// ReassignOwner moves every device-owned row to userID in one transaction.
func (r *repo) ReassignOwner(ctx context.Context, deviceID, userID string) (int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	userID = strings.TrimSpace(userID)
	if deviceID == "" || userID == "" {
		return 0, domain.ErrInvalidOwner
	}

	var moved int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&domain.Entitlement{}).Where("device_id = ?", deviceID)
		if r.rowLocking() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var ids []int64
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Model(&domain.Entitlement{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"device_id":  nil,
				"user_id":    userID,
				"updated_at": r.clock.Now(ctx),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("reassign owner: moved %d of %d rows", result.RowsAffected, len(ids))
		}
		moved = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *repo) LatestCustomerID(ctx context.Context, owner domain.Owner) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.Entitlement{}).
		Where(owner.Column()+" = ?", owner.ID).
		Where("stripe_customer_id IS NOT NULL AND stripe_customer_id <> ''").
		Order("purchased_at DESC, id DESC").
		Limit(1).
		Pluck("stripe_customer_id", &ids).Error
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// rowLocking reports whether the dialect has row and advisory locks.
func (r *repo) rowLocking() bool {
	return r.db.Dialector.Name() == "postgres"
}

func validateNew(e *domain.Entitlement) error {
	if e == nil {
		return errors.New("entitlement is required")
	}
	e.StripePaymentIntentID = strings.TrimSpace(e.StripePaymentIntentID)
	if e.StripePaymentIntentID == "" {
		return domain.ErrMissingPaymentIntent
	}
	if !e.PlanID.Valid() {
		return domain.ErrInvalidPlan
	}
	// One-time grants never expire; subscriptions always do.
	if e.PlanID.IsSubscription() != (e.ExpiresAt != nil) {
		return fmt.Errorf("%w: plan %s", domain.ErrInvalidExpiry, e.PlanID)
	}
	if e.Status == "" {
		e.Status = domain.StatusActive
	}
	if !e.Status.Valid() {
		return domain.ErrInvalidStatus
	}
	if err := e.Owner().Validate(); err != nil {
		return err
	}
	if e.DeviceID != nil && e.UserID != nil {
		return domain.ErrInvalidOwner
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
