package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *SubscriptionStore) GetByExternalID(ctx context.Context, externalSubscriptionID string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("external_subscription_id", "=", strings.TrimSpace(externalSubscriptionID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Subscription{}, err
	}
	if len(records) == 0 {
		return core.Subscription{}, core.NewNotFound(fmt.Sprintf(
			"subscription not found for external id %q",
			externalSubscriptionID,
		))
	}
	return records[0].toDomain(), nil
}

func (s *SubscriptionStore) FindLatestOpenByCustomer(ctx context.Context, externalCustomerID string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("external_customer_id", "=", strings.TrimSpace(externalCustomerID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.status != ?", string(core.SubscriptionStatusCancelled))
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Subscription{}, err
	}
	if len(records) == 0 {
		return core.Subscription{}, core.NewNotFound(fmt.Sprintf(
			"open subscription not found for customer %q",
			externalCustomerID,
		))
	}
	return records[0].toDomain(), nil
}

// CreateIfAbsent inserts a subscription keyed by its external id. A
// concurrent insert of the same id loses the unique race and returns
// the winner's row with created=false.
func (s *SubscriptionStore) CreateIfAbsent(ctx context.Context, in core.UpsertSubscriptionInput) (core.Subscription, bool, error) {
	if s == nil || s.db == nil {
		return core.Subscription{}, false, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	in.ExternalSubscriptionID = strings.TrimSpace(in.ExternalSubscriptionID)
	if in.ExternalSubscriptionID == "" {
		return core.Subscription{}, false, fmt.Errorf("sqlstore: external subscription id is required")
	}
	if strings.TrimSpace(string(in.Status)) == "" {
		in.Status = core.SubscriptionStatusIncomplete
	}

	record := newSubscriptionRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByExternalID(ctx, in.ExternalSubscriptionID)
			if getErr != nil {
				return core.Subscription{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Subscription{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *SubscriptionStore) Update(ctx context.Context, subscription core.Subscription) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(subscription.ID)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNoRows(err) {
			return core.NewNotFound(fmt.Sprintf("subscription %q not found", subscription.ID))
		}
		return err
	}
	applySubscription(record, subscription, time.Now().UTC())
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
