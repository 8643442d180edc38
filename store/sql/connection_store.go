package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-connect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func (s *ConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: provider id is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id is required")
	}

	status := in.Status
	if strings.TrimSpace(string(status)) == "" {
		status = core.ConnectionStatusActive
	}

	record := newConnectionRecord(core.CreateConnectionInput{
		ProviderID:        strings.TrimSpace(in.ProviderID),
		UserID:            strings.TrimSpace(in.UserID),
		ExternalAccountID: strings.TrimSpace(in.ExternalAccountID),
		Status:            status,
	}, time.Now().UTC())

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	return created.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if isNoRows(err) {
			return core.Connection{}, core.NewNotFound(fmt.Sprintf("connection %q not found", id))
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) GetByUserProvider(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, err
	}
	if len(records) == 0 {
		return core.Connection{}, core.NewNotFound(fmt.Sprintf(
			"connection not found for user %q provider %q",
			userID,
			providerID,
		))
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, lastErr core.LastError) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		if isNoRows(err) {
			return core.NewNotFound(fmt.Sprintf("connection %q not found", id))
		}
		return err
	}
	current.Status = string(status)
	current.UpdatedAt = time.Now().UTC()
	if lastErr.IsZero() {
		current.LastErrorMessage = ""
		current.LastErrorCode = ""
		current.LastErrorAt = nil
	} else {
		current.LastErrorMessage = lastErr.Message
		current.LastErrorCode = lastErr.Code
		at := lastErr.At.UTC()
		if at.IsZero() {
			at = current.UpdatedAt
		}
		current.LastErrorAt = &at
	}

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	// Soft delete; the record keeps its audit trail.
	_, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("id = ?", trimmedID).
		Exec(ctx)
	return err
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	if err == sql.ErrNoRows {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no rows in result set") ||
		strings.Contains(strings.ToLower(err.Error()), "record not found")
}
