package ingest

import (
	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/models"
)

type ControlKind int

const (
	ControlConnect ControlKind = iota + 1
	ControlPause
	ControlResume
	ControlDisconnect
)

func (k ControlKind) String() string {
	switch k {
	case ControlConnect:
		return "CONNECT"
	case ControlPause:
		return "PAUSE"
	case ControlResume:
		return "RESUME"
	case ControlDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// ConnectConfig is carried by ControlConnect.
type ConnectConfig struct {
	Feed     feed.Config
	MaxItems int
}

// Control is a message sent to the worker.
type Control struct {
	Kind   ControlKind
	Config ConnectConfig
}

type StatusKind int

const (
	StatusConnected StatusKind = iota + 1
	StatusDisconnected
	StatusNewMessage
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusNewMessage:
		return "NEW_MESSAGE"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is a message emitted by the worker. Trades is set for
// StatusNewMessage (newest first), Reason for StatusError.
type Status struct {
	Kind   StatusKind
	Trades []models.Trade
	Reason string
}
