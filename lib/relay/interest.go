package relay

import (
	"strings"
)

// --------------------------------------------------------------------------
// Readiness interest and poll options
// --------------------------------------------------------------------------

// Interest is the set of readiness conditions requested for a socket
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Hangup
)

// Has reports whether all conditions in o are part of the set
func (i Interest) Has(o Interest) bool {
	return i&o == o
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i.Has(Readable) {
		parts = append(parts, "readable")
	}
	if i.Has(Writable) {
		parts = append(parts, "writable")
	}
	if i.Has(Hangup) {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// PollOpt controls how a registration fires
type PollOpt uint8

const (
	// Edge fires once per readiness transition instead of while the condition holds
	Edge PollOpt = 1 << iota
	// Oneshot disables the registration after one event until it is re-armed
	Oneshot
)

// --------------------------------------------------------------------------
// Handles and tokens
// --------------------------------------------------------------------------

// Handle identifies a slot in the session table
type Handle int32

// ListenerHandle is reserved for the listening socket and never given to a session
const ListenerHandle Handle = 0

// Token is what a registration carries back with each readiness event: the
// handle of the owning session plus the generation of its slot. Events whose
// generation does not match the slot anymore belong to a removed session.
type Token struct {
	Handle Handle
	Gen    uint32
}

// ListenerToken is the token of the listening socket
var ListenerToken = Token{Handle: ListenerHandle}

// Registrar is the part of the reactor a session needs to (re-)arm its sockets
type Registrar interface {
	// Register adds fd to the poll set
	Register(fd int, token Token, interest Interest, opts PollOpt) error
	// Reregister replaces the interest and options of a registered fd
	Reregister(fd int, token Token, interest Interest, opts PollOpt) error
	// Deregister removes fd from the poll set
	Deregister(fd int) error
}
