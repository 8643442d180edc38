package command

import (
	"context"

	"github.com/goliatone/go-billing-connect/core"
	gocmd "github.com/goliatone/go-command"
)

// MutatingService is the slice of the billing service the command layer
// drives. Satisfied by *core.Service.
type MutatingService interface {
	EstablishConnection(ctx context.Context, in core.EstablishConnectionInput) (core.Connection, error)
	Refresh(ctx context.Context, connectionID string) (core.ActiveCredential, error)
	Pause(ctx context.Context, connectionID string) error
	Resume(ctx context.Context, connectionID string) error
	Disconnect(ctx context.Context, connectionID string, reason string) error
}

type EstablishConnectionCommand struct {
	service MutatingService
}

func NewEstablishConnectionCommand(service MutatingService) *EstablishConnectionCommand {
	return &EstablishConnectionCommand{service: service}
}

func (c *EstablishConnectionCommand) Execute(ctx context.Context, msg EstablishConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.EstablishConnection(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.Refresh(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PauseConnectionCommand struct {
	service MutatingService
}

func NewPauseConnectionCommand(service MutatingService) *PauseConnectionCommand {
	return &PauseConnectionCommand{service: service}
}

func (c *PauseConnectionCommand) Execute(ctx context.Context, msg PauseConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.Pause(ctx, msg.ConnectionID)
}

type ResumeConnectionCommand struct {
	service MutatingService
}

func NewResumeConnectionCommand(service MutatingService) *ResumeConnectionCommand {
	return &ResumeConnectionCommand{service: service}
}

func (c *ResumeConnectionCommand) Execute(ctx context.Context, msg ResumeConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.Resume(ctx, msg.ConnectionID)
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.Disconnect(ctx, msg.ConnectionID, msg.Reason)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
