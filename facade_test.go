package billingconnect

import (
	"context"
	"testing"
	"time"

	billingcommand "github.com/goliatone/go-billing-connect/command"
	"github.com/goliatone/go-billing-connect/core"
	billingquery "github.com/goliatone/go-billing-connect/query"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	svc := &stubFacadeService{}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.EstablishConnection == nil || commands.Refresh == nil || commands.Disconnect == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.ConnectionStatus == nil || queries.ExpiringCredentials == nil || queries.GetUserConnection == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}

	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().Disconnect.Execute(context.Background(), billingcommand.DisconnectMessage{
		ConnectionID: "conn_1",
		Reason:       "user requested",
	}); err != nil {
		t.Fatalf("execute disconnect command: %v", err)
	}
	if svc.lastDisconnectConnectionID != "conn_1" || svc.lastDisconnectReason != "user requested" {
		t.Fatalf("unexpected disconnect delegation payload")
	}

	projection, err := facade.Queries().ConnectionStatus.Query(context.Background(), billingquery.ConnectionStatusMessage{
		ConnectionID: "conn_1",
	})
	if err != nil {
		t.Fatalf("query connection status: %v", err)
	}
	if projection.ConnectionID != "conn_1" || !projection.Usable {
		t.Fatalf("unexpected status query result: %#v", projection)
	}

	connection, err := facade.Queries().GetUserConnection.Query(context.Background(), billingquery.GetUserConnectionMessage{
		UserID:     "usr_1",
		ProviderID: "stripe",
	})
	if err != nil {
		t.Fatalf("query user connection: %v", err)
	}
	if connection.ID != "conn_1" {
		t.Fatalf("unexpected connection query result: %#v", connection)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}

type stubFacadeService struct {
	lastDisconnectConnectionID string
	lastDisconnectReason       string
}

func (s *stubFacadeService) EstablishConnection(_ context.Context, in core.EstablishConnectionInput) (core.Connection, error) {
	return core.Connection{ID: "conn_1", ProviderID: in.ProviderID, UserID: in.UserID}, nil
}

func (s *stubFacadeService) Refresh(_ context.Context, connectionID string) (core.ActiveCredential, error) {
	return core.ActiveCredential{ConnectionID: connectionID, AccessToken: "at"}, nil
}

func (s *stubFacadeService) Pause(context.Context, string) error {
	return nil
}

func (s *stubFacadeService) Resume(context.Context, string) error {
	return nil
}

func (s *stubFacadeService) Disconnect(_ context.Context, connectionID string, reason string) error {
	s.lastDisconnectConnectionID = connectionID
	s.lastDisconnectReason = reason
	return nil
}

func (s *stubFacadeService) Status(_ context.Context, connectionID string) (core.ConnectionStatusProjection, error) {
	return core.ConnectionStatusProjection{ConnectionID: connectionID, Status: core.ConnectionStatusActive, Usable: true}, nil
}

func (s *stubFacadeService) ExpiringCredentials(context.Context, time.Time) ([]core.Credential, error) {
	return nil, nil
}

func (s *stubFacadeService) GetByUserProvider(_ context.Context, userID string, providerID string) (core.Connection, error) {
	return core.Connection{ID: "conn_1", UserID: userID, ProviderID: providerID}, nil
}

var _ CommandQueryService = (*stubFacadeService)(nil)
var _ billingquery.ConnectionReader = (*stubFacadeService)(nil)
