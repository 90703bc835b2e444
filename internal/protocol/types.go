// Package protocol defines the JSON frames exchanged with the generation
// service. Types mirror the service wire protocol; the same payloads travel
// over raw WebSocket frames and inside STOMP message bodies.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Operation identifies an outbound command.
type Operation string

const (
	OpConfigure     Operation = "configure"
	OpStart         Operation = "start"
	OpStop          Operation = "stop"
	OpUpdateRequest Operation = "update-request"
	OpPause         Operation = "pause"
)

// StatusCompleted is the terminal status sent once a request has produced
// its whole population.
const StatusCompleted = "Completed"

// DefaultPopulation is used when Configure is called without a configuration.
const DefaultPopulation = 50

// Command is an outbound control message.
type Command struct {
	Operation     Operation     `json:"operation"`
	Identifier    string        `json:"uuid,omitempty"`
	Configuration Configuration `json:"configuration,omitempty"`
}

// NeedsIdentifier reports whether the command must carry a server-assigned
// identifier. Only configure precedes assignment.
func (c Command) NeedsIdentifier() bool {
	return c.Operation != OpConfigure
}

// MarshalJSON writes the wire shape. An empty but non-nil configuration is
// still sent as {} since the service rejects update-request without one.
func (c Command) MarshalJSON() ([]byte, error) {
	type wire struct {
		Operation     Operation      `json:"operation"`
		Identifier    string         `json:"uuid,omitempty"`
		Configuration *Configuration `json:"configuration,omitempty"`
	}
	w := wire{Operation: c.Operation, Identifier: c.Identifier}
	if c.Configuration != nil {
		cfg := c.Configuration
		w.Configuration = &cfg
	}
	return json.Marshal(w)
}

// Encode marshals the command to its wire form.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

func (c Command) String() string {
	if c.Identifier == "" {
		return string(c.Operation)
	}
	return fmt.Sprintf("%s(%s)", c.Operation, c.Identifier)
}

// Configure builds a configure command. A nil configuration becomes
// {"population": DefaultPopulation}.
func Configure(cfg Configuration) Command {
	if cfg == nil {
		cfg = PopulationConfig(DefaultPopulation)
	}
	return Command{Operation: OpConfigure, Configuration: cfg}
}

// Start builds a start command for the given request.
func Start(id string) Command { return Command{Operation: OpStart, Identifier: id} }

// Stop builds a stop command for the given request.
func Stop(id string) Command { return Command{Operation: OpStop, Identifier: id} }

// Pause builds a pause command for the given request.
func Pause(id string) Command { return Command{Operation: OpPause, Identifier: id} }

// UpdateRequest builds an update-request command.
func UpdateRequest(id string, cfg Configuration) Command {
	return Command{Operation: OpUpdateRequest, Identifier: id, Configuration: cfg}
}

// Kind classifies an inbound frame.
type Kind int

const (
	KindEntity Kind = iota
	KindStatus
	KindError
	// KindIdentifier marks a frame that only assigns an identifier.
	KindIdentifier
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindIdentifier:
		return "identifier"
	default:
		return "unknown"
	}
}

// Inbound is a classified inbound frame. Identifier is set whenever the
// frame carried a uuid, independently of Kind.
type Inbound struct {
	Kind          Kind
	Identifier    string
	Error         string
	Status        string
	Configuration json.RawMessage
	Payload       json.RawMessage
}

// HasIdentifier reports whether the frame assigned an identifier.
func (in Inbound) HasIdentifier() bool { return in.Identifier != "" }

// Terminal reports whether the frame is the terminal status.
func (in Inbound) Terminal() bool {
	return in.Kind == KindStatus && in.Status == StatusCompleted
}

// Text returns the message shown to an observer: the error or status text.
func (in Inbound) Text() string {
	switch in.Kind {
	case KindError:
		return in.Error
	case KindStatus:
		return in.Status
	}
	return ""
}
