package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-billing-connect/core"
)

const (
	TypeEstablishConnection = "billing.command.connection.establish"
	TypeRefresh             = "billing.command.credential.refresh"
	TypePauseConnection     = "billing.command.connection.pause"
	TypeResumeConnection    = "billing.command.connection.resume"
	TypeDisconnect          = "billing.command.connection.disconnect"
)

type EstablishConnectionMessage struct {
	Input core.EstablishConnectionInput
}

func (EstablishConnectionMessage) Type() string { return TypeEstablishConnection }

func (m EstablishConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Input.ProviderID) == "" {
		return fmt.Errorf("command: provider id is required")
	}
	if strings.TrimSpace(m.Input.UserID) == "" {
		return fmt.Errorf("command: user id is required")
	}
	if strings.TrimSpace(m.Input.Pair.AccessToken) == "" {
		return fmt.Errorf("command: access token is required")
	}
	return nil
}

type RefreshMessage struct {
	ConnectionID string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return fmt.Errorf("command: connection id is required")
	}
	return nil
}

type PauseConnectionMessage struct {
	ConnectionID string
}

func (PauseConnectionMessage) Type() string { return TypePauseConnection }

func (m PauseConnectionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return fmt.Errorf("command: connection id is required")
	}
	return nil
}

type ResumeConnectionMessage struct {
	ConnectionID string
}

func (ResumeConnectionMessage) Type() string { return TypeResumeConnection }

func (m ResumeConnectionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return fmt.Errorf("command: connection id is required")
	}
	return nil
}

type DisconnectMessage struct {
	ConnectionID string
	Reason       string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return fmt.Errorf("command: connection id is required")
	}
	return nil
}
