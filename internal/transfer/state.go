// Package transfer moves files between the local filesystem and Dropbox.
// It picks simple or chunked transport by size, reports progress through an
// observer, verifies content hashes, and persists chunked upload sessions
// so interrupted transfers can resume.
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Direction says which way the bytes flow.
type Direction int

const (
	DirectionUpload Direction = iota
	DirectionDownload
)

func (d Direction) String() string {
	if d == DirectionUpload {
		return "upload"
	}

	return "download"
}

// Mode is the transport strategy chosen for a transfer.
type Mode int

const (
	// ModeUnset means the size has not been inspected yet.
	ModeUnset Mode = iota
	// ModeSimple sends the whole payload in one request.
	ModeSimple
	// ModeChunked moves the payload in fixed-size windows.
	ModeChunked
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeChunked:
		return "chunked"
	default:
		return "unset"
	}
}

// State is one step in a transfer's lifecycle.
type State int

const (
	// StatePending means the transfer is created but no bytes have moved.
	StatePending State = iota
	// StateSimple means a single-request transfer is in flight.
	StateSimple
	// StateSessionOpen means a chunked session is being opened.
	StateSessionOpen
	// StateTransferring means windows are moving.
	StateTransferring
	// StateCommitting means all windows are sent and the final commit or
	// verification is running.
	StateCommitting
	// StateCompleted is terminal success.
	StateCompleted
	// StateFailed is terminal failure.
	StateFailed
	// StateCancelled is terminal cancellation by the caller's context.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSimple:
		return "simple"
	case StateSessionOpen:
		return "session-open"
	case StateTransferring:
		return "transferring"
	case StateCommitting:
		return "committing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further state change is allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// validNext enumerates the allowed lifecycle edges. Failed and Cancelled
// are reachable from every non-terminal state.
var validNext = map[State][]State{
	StatePending:      {StateSimple, StateSessionOpen, StateTransferring},
	StateSimple:       {StateCommitting},
	StateSessionOpen:  {StateTransferring},
	StateTransferring: {StateCommitting},
	StateCommitting:   {StateCompleted},
}

func allowed(from, to State) bool {
	if from.Terminal() {
		return false
	}

	if to == StateFailed || to == StateCancelled {
		return true
	}

	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}

	return false
}

// Descriptor is the live handle for one transfer. Byte counts and state are
// safe to read from other goroutines while the transfer runs.
type Descriptor struct {
	ID         string
	Direction  Direction
	LocalPath  string
	RemotePath string

	// TotalBytes is fixed once the size is known, before any bytes move.
	TotalBytes int64

	bytes atomic.Int64

	mu    sync.Mutex
	mode  Mode
	state State
	err   error
}

func newDescriptor(dir Direction, localPath, remotePath string) *Descriptor {
	return &Descriptor{
		ID:         uuid.NewString(),
		Direction:  dir,
		LocalPath:  localPath,
		RemotePath: remotePath,
		state:      StatePending,
	}
}

// State returns the current lifecycle state.
func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Mode returns the transport strategy, ModeUnset until chosen.
func (d *Descriptor) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode
}

// Err returns the terminal error, nil unless the transfer failed or was
// cancelled.
func (d *Descriptor) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.err
}

// BytesTransferred returns the count of bytes confirmed moved so far.
// The count only ever grows.
func (d *Descriptor) BytesTransferred() int64 {
	return d.bytes.Load()
}

// addBytes records n more bytes moved. Negative deltas are a programming
// error and are dropped to preserve monotonicity.
func (d *Descriptor) addBytes(n int64) {
	if n > 0 {
		d.bytes.Add(n)
	}
}

func (d *Descriptor) setMode(m Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mode = m
}

// transition moves the descriptor to the requested state, rejecting edges
// outside the lifecycle. Returns the previous state for observer
// notification.
func (d *Descriptor) transition(to State) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.state
	if !allowed(from, to) {
		return from, fmt.Errorf("transfer: invalid state transition %s -> %s", from, to)
	}

	d.state = to

	return from, nil
}

// fail marks the descriptor terminally failed (or cancelled) and records
// the cause.
func (d *Descriptor) fail(to State, err error) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.state
	if from.Terminal() {
		return from
	}

	d.state = to
	d.err = err

	return from
}
