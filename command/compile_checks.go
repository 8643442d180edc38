package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EstablishConnectionMessage] = (*EstablishConnectionCommand)(nil)
	_ gocmd.Commander[RefreshMessage]             = (*RefreshCommand)(nil)
	_ gocmd.Commander[PauseConnectionMessage]     = (*PauseConnectionCommand)(nil)
	_ gocmd.Commander[ResumeConnectionMessage]    = (*ResumeConnectionCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]          = (*DisconnectCommand)(nil)
)
