package sqlstore

import (
	"time"

	"github.com/goliatone/go-billing-connect/core"
)

func newConnectionRecord(in core.CreateConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		ProviderID:        in.ProviderID,
		UserID:            in.UserID,
		ExternalAccountID: in.ExternalAccountID,
		Status:            string(in.Status),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID:                r.ID,
		ProviderID:        r.ProviderID,
		UserID:            r.UserID,
		ExternalAccountID: r.ExternalAccountID,
		Status:            core.ConnectionStatus(r.Status),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LastErrorMessage != "" || r.LastErrorCode != "" {
		connection.LastError = core.LastError{
			Message: r.LastErrorMessage,
			Code:    r.LastErrorCode,
		}
		if r.LastErrorAt != nil {
			connection.LastError.At = *r.LastErrorAt
		}
	}
	return connection
}

func newCredentialRecord(in core.SaveCredentialInput, version int, now time.Time) *credentialRecord {
	payloadFormat := in.PayloadFormat
	if payloadFormat == "" {
		payloadFormat = core.CredentialPayloadFormatJSONV1
	}
	payloadVersion := in.PayloadVersion
	if payloadVersion <= 0 {
		payloadVersion = core.CredentialPayloadVersionV1
	}
	record := &credentialRecord{
		ConnectionID:      in.ConnectionID,
		Version:           version,
		EncryptedPayload:  append([]byte(nil), in.EncryptedPayload...),
		PayloadFormat:     payloadFormat,
		PayloadVersion:    payloadVersion,
		TokenType:         in.TokenType,
		Refreshable:       in.Refreshable,
		Status:            string(in.Status),
		EncryptionKeyID:   in.EncryptionKeyID,
		EncryptionVersion: in.EncryptionVersion,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.ExpiresAt != nil {
		expiresAt := *in.ExpiresAt
		record.ExpiresAt = &expiresAt
	}
	return record
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	credential := core.Credential{
		ID:                r.ID,
		ConnectionID:      r.ConnectionID,
		Version:           r.Version,
		EncryptedPayload:  append([]byte(nil), r.EncryptedPayload...),
		PayloadFormat:     r.PayloadFormat,
		PayloadVersion:    r.PayloadVersion,
		TokenType:         r.TokenType,
		Refreshable:       r.Refreshable,
		Status:            core.CredentialStatus(r.Status),
		EncryptionKeyID:   r.EncryptionKeyID,
		EncryptionVersion: r.EncryptionVersion,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ExpiresAt != nil {
		expiresAt := *r.ExpiresAt
		credential.ExpiresAt = &expiresAt
	}
	return credential
}

func newSubscriptionRecord(in core.UpsertSubscriptionInput, now time.Time) *subscriptionRecord {
	record := &subscriptionRecord{
		UserID:                 in.UserID,
		ExternalSubscriptionID: in.ExternalSubscriptionID,
		ExternalCustomerID:     in.ExternalCustomerID,
		PriceID:                in.PriceID,
		Status:                 string(in.Status),
		CurrentPeriodStart:     in.CurrentPeriodStart,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if in.TrialEnd != nil {
		trialEnd := *in.TrialEnd
		record.TrialEnd = &trialEnd
	}
	if !in.LastEventAt.IsZero() {
		lastEventAt := in.LastEventAt
		record.LastEventAt = &lastEventAt
	}
	return record
}

func (r *subscriptionRecord) toDomain() core.Subscription {
	if r == nil {
		return core.Subscription{}
	}
	subscription := core.Subscription{
		ID:                     r.ID,
		UserID:                 r.UserID,
		ExternalSubscriptionID: r.ExternalSubscriptionID,
		ExternalCustomerID:     r.ExternalCustomerID,
		PriceID:                r.PriceID,
		Status:                 core.SubscriptionStatus(r.Status),
		CurrentPeriodStart:     r.CurrentPeriodStart,
		CurrentPeriodEnd:       r.CurrentPeriodEnd,
		CancelAtPeriodEnd:      r.CancelAtPeriodEnd,
		FailedPaymentAttempts:  r.FailedPaymentAttempts,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.TrialEnd != nil {
		trialEnd := *r.TrialEnd
		subscription.TrialEnd = &trialEnd
	}
	if r.LastEventAt != nil {
		subscription.LastEventAt = *r.LastEventAt
	}
	return subscription
}

func applySubscription(record *subscriptionRecord, subscription core.Subscription, now time.Time) {
	if record == nil {
		return
	}
	record.UserID = subscription.UserID
	record.ExternalCustomerID = subscription.ExternalCustomerID
	record.PriceID = subscription.PriceID
	record.Status = string(subscription.Status)
	record.CurrentPeriodStart = subscription.CurrentPeriodStart
	record.CurrentPeriodEnd = subscription.CurrentPeriodEnd
	record.CancelAtPeriodEnd = subscription.CancelAtPeriodEnd
	record.FailedPaymentAttempts = subscription.FailedPaymentAttempts
	if subscription.LastEventAt.IsZero() {
		record.LastEventAt = nil
	} else {
		lastEventAt := subscription.LastEventAt
		record.LastEventAt = &lastEventAt
	}
	record.UpdatedAt = now
	if subscription.TrialEnd == nil {
		record.TrialEnd = nil
	} else {
		trialEnd := *subscription.TrialEnd
		record.TrialEnd = &trialEnd
	}
}

func newTransactionRecord(in core.InsertTransactionInput, now time.Time) *transactionRecord {
	return &transactionRecord{
		SubscriptionID:    in.SubscriptionID,
		ExternalInvoiceID: in.ExternalInvoiceID,
		ExternalChargeID:  in.ExternalChargeID,
		Kind:              string(in.Kind),
		Amount:            in.Amount,
		Currency:          in.Currency,
		Status:            string(in.Status),
		PeriodStart:       in.PeriodStart,
		PeriodEnd:         in.PeriodEnd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	if r == nil {
		return core.Transaction{}
	}
	transaction := core.Transaction{
		ID:                r.ID,
		SubscriptionID:    r.SubscriptionID,
		ExternalInvoiceID: r.ExternalInvoiceID,
		ExternalChargeID:  r.ExternalChargeID,
		Kind:              core.TransactionKind(r.Kind),
		Amount:            r.Amount,
		Currency:          r.Currency,
		Status:            core.TransactionStatus(r.Status),
		PeriodStart:       r.PeriodStart,
		PeriodEnd:         r.PeriodEnd,
		RefundedAmount:    r.RefundedAmount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.RefundedAt != nil {
		refundedAt := *r.RefundedAt
		transaction.RefundedAt = &refundedAt
	}
	return transaction
}

func applyTransaction(record *transactionRecord, transaction core.Transaction, now time.Time) {
	if record == nil {
		return
	}
	record.Status = string(transaction.Status)
	record.RefundedAmount = transaction.RefundedAmount
	record.UpdatedAt = now
	if transaction.RefundedAt == nil {
		record.RefundedAt = nil
	} else {
		refundedAt := *transaction.RefundedAt
		record.RefundedAt = &refundedAt
	}
}
