package message

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Message is a payload received on a stream connection.
type Message struct {
	Sequence uint64    `cbor:"1,keyasint,omitempty"` // Assigned by the sink that stores the message
	From     string    `cbor:"2,keyasint,omitempty"` // Remote endpoint the payload was read from
	Payload  []byte    `cbor:"3,keyasint,omitempty"` // Opaque application payload
	Received time.Time `cbor:"4,keyasint,omitempty"` // Local receive time
}

// Sink consumes received messages. Implementations must be safe for concurrent use,
// every receive loop calls HandleMessage from its own goroutine.
type Sink interface {
	HandleMessage(msg *Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(msg *Message)

func (f SinkFunc) HandleMessage(msg *Message) {
	f(msg)
}

// LogSink writes every message to the log at info level.
type LogSink struct{}

func (LogSink) HandleMessage(msg *Message) {
	log.WithField("from", msg.From).Infof("Message received: %s", msg.Payload)
}

// MultiSink hands each message to every sink in order.
type MultiSink []Sink

func (m MultiSink) HandleMessage(msg *Message) {
	for _, s := range m {
		s.HandleMessage(msg)
	}
}
