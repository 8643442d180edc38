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

type TransactionStore struct {
	db   *bun.DB
	repo repository.Repository[*transactionRecord]
}

func NewTransactionStore(db *bun.DB) (*TransactionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*transactionRecord](db, transactionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transaction repository wiring: %w", err)
		}
	}
	return &TransactionStore{
		db:   db,
		repo: repo,
	}, nil
}

// Insert appends one ledger row keyed by the external invoice id. A
// redelivered event loses the unique race and gets the existing row
// back with created=false, so the ledger never grows on retries.
func (s *TransactionStore) Insert(ctx context.Context, in core.InsertTransactionInput) (core.Transaction, bool, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, false, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	in.ExternalInvoiceID = strings.TrimSpace(in.ExternalInvoiceID)
	if in.ExternalInvoiceID == "" {
		return core.Transaction{}, false, fmt.Errorf("sqlstore: external invoice id is required")
	}
	if strings.TrimSpace(in.SubscriptionID) == "" {
		return core.Transaction{}, false, fmt.Errorf("sqlstore: subscription id is required")
	}

	record := newTransactionRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByExternalInvoiceID(ctx, in.ExternalInvoiceID)
			if getErr != nil {
				return core.Transaction{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Transaction{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *TransactionStore) GetByExternalInvoiceID(ctx context.Context, externalInvoiceID string) (core.Transaction, error) {
	if s == nil || s.repo == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("external_invoice_id", "=", strings.TrimSpace(externalInvoiceID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(records) == 0 {
		return core.Transaction{}, core.NewNotFound(fmt.Sprintf(
			"transaction not found for invoice %q",
			externalInvoiceID,
		))
	}
	return records[0].toDomain(), nil
}

func (s *TransactionStore) GetByExternalChargeID(ctx context.Context, externalChargeID string) (core.Transaction, error) {
	if s == nil || s.repo == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("external_charge_id", "=", strings.TrimSpace(externalChargeID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(records) == 0 {
		return core.Transaction{}, core.NewNotFound(fmt.Sprintf(
			"transaction not found for charge %q",
			externalChargeID,
		))
	}
	return records[0].toDomain(), nil
}

func (s *TransactionStore) Update(ctx context.Context, transaction core.Transaction) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: transaction store is not configured")
	}
	trimmedID := strings.TrimSpace(transaction.ID)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: transaction id is required")
	}
	record, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNoRows(err) {
			return core.NewNotFound(fmt.Sprintf("transaction %q not found", transaction.ID))
		}
		return err
	}
	applyTransaction(record, transaction, time.Now().UTC())
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *TransactionStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]core.Transaction, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("subscription_id", "=", strings.TrimSpace(subscriptionID)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
