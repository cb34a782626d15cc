package server

import (
	"socketrpc/message"

	log "github.com/sirupsen/logrus"
)

// EventKind identifies a lifecycle notification.
type EventKind int

const (
	EventStart      EventKind = iota // listener bound
	EventConnection                  // connection accepted
	EventMessage                     // request read from a connection
	EventDisconnect                  // connection ended
	EventStop                        // stop requested; listener closed
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventConnection:
		return "connection"
	case EventMessage:
		return "message"
	case EventDisconnect:
		return "disconnect"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ReasonShutdown is the stop reason for an orderly, externally requested stop.
const ReasonShutdown = "shutdown"

// ReasonAcceptFailed is the stop reason when the listener failed.
const ReasonAcceptFailed = "accept failed"

// Event is a lifecycle notification. An EventStop caused by a failure carries
// the failure in Err; an orderly stop leaves Err nil.
type Event struct {
	Kind      EventKind
	ServiceID string
	ConnID    string
	Addr      string
	Message   *message.Message
	Reason    string
	Err       error
}

func (s *Service) emit(ev Event) {
	ev.ServiceID = s.id
	logEvent(ev)
	if s.opts.listener != nil {
		s.opts.listener(ev)
	}
}

func logEvent(ev Event) {
	entry := log.WithFields(log.Fields{"service": ev.ServiceID, "event": ev.Kind.String()})
	if ev.ConnID != "" {
		entry = entry.WithField("conn", ev.ConnID)
	}
	if ev.Addr != "" {
		entry = entry.WithField("addr", ev.Addr)
	}

	switch ev.Kind {
	case EventStart:
		entry.Info("service listening")
	case EventConnection:
		entry.Info("connection accepted")
	case EventMessage:
		entry.WithField("request_id", ev.Message.ID).Debug("request received")
	case EventDisconnect:
		if ev.Err != nil {
			entry.WithField("error", ev.Err).Warn("connection closed with error")
			return
		}
		entry.Info("connection closed")
	case EventStop:
		entry = entry.WithField("reason", ev.Reason)
		if ev.Err != nil {
			entry.WithField("error", ev.Err).Error("service stopped")
			return
		}
		entry.Info("service stopped")
	}
}
