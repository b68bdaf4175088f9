/*
lcsstation per-device frame ring.

Package ring implements the bounded, contiguous frame buffer that backs
one LCS device: command replies and inbound Ethernet frames accumulate
here until the guest issues a Read, which drains the whole thing as one
batch. Enqueue blocks under backpressure instead of dropping, because a
channel program cannot tolerate a dropped reply frame.
*/
package ring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// Buffer size bounds, clamped per the data model.
const (
	MinBufferSize = 16 * 1024
	MaxBufferSize = 64 * 1024

	// MaxEthPayload bounds a single passthrough Ethernet frame body.
	MaxEthPayload = 9000

	// diagInterval is how often a blocked producer logs while waiting
	// for the ring to drain.
	diagInterval = 3 * time.Second
)

// ErrWouldOverflow is returned by an enqueue that would exceed the
// ring's configured maximum size.
var ErrWouldOverflow = errors.New("ring: would overflow device buffer")

// ErrMessageTooLong is returned when an inbound Ethernet frame exceeds
// the maximum passthrough payload size.
var ErrMessageTooLong = errors.New("ring: message too long for passthrough")

// ErrClosed is returned to a blocked producer when the owning port
// enters close-in-progress.
var ErrClosed = errors.New("ring: device closed")

// ClampBufferSize enforces the [MinBufferSize, MaxBufferSize] bound
// from the data model, falling back to fallback when requested is out
// of range.
func ClampBufferSize(requested, fallback int) int {
	if requested < MinBufferSize || requested > MaxBufferSize {
		return fallback
	}
	return requested
}

// Ring is the per-device bounded frame buffer. Zero value is not usable;
// construct with New.
//
// Blocking waits (backpressure for producers, ring-non-empty for the
// guest Read) are built on a "generation channel" rather than
// sync.Cond: a waiter captures the current channel while holding mu,
// releases mu, and selects on it. Any state change that might unblock
// a waiter closes the captured channel and installs a fresh one, all
// under mu. This sidesteps the classic Cond+external-timeout problem,
// where a second goroutine would need to call cond.Wait on the
// caller's behalf without actually holding the lock itself.
type Ring struct {
	mu sync.Mutex

	buf     []byte
	offset  int
	maxSize int

	replyPending  bool
	dataPending   bool
	pendingBaffle bool

	closed bool
	wake   chan struct{}

	log *slog.Logger
}

// New creates a ring with the given maximum buffer size (already
// clamped by the caller via ClampBufferSize).
func New(maxSize int, log *slog.Logger) *Ring {
	if log == nil {
		log = slog.Default()
	}
	return &Ring{
		buf:     make([]byte, maxSize),
		maxSize: maxSize,
		wake:    make(chan struct{}),
		log:     log,
	}
}

// broadcastLocked wakes every current waiter. Caller holds r.mu.
func (r *Ring) broadcastLocked() {
	close(r.wake)
	r.wake = make(chan struct{})
}

// Pending reports whether the ring currently holds any frame.
func (r *Ring) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replyPending || r.dataPending
}

// Len reports the number of bytes currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// Close marks the ring's owning device as closed; blocked producers
// wake and return ErrClosed.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.broadcastLocked()
	r.mu.Unlock()
}

// enqueueReplyLocked appends a pre-built command reply. Caller holds
// r.mu.
func (r *Ring) enqueueReplyLocked(reply []byte, baffleRequired bool) error {
	reserve := 0
	if r.offset == 0 && baffleRequired {
		reserve = wire.BaffleLen
	}
	need := r.offset + reserve + len(reply) + 2 // +2 for the eventual terminator field.
	if need > r.maxSize {
		return ErrWouldOverflow
	}
	base := r.offset
	if reserve > 0 {
		r.pendingBaffle = true
		base += reserve
	}
	wire.SetOffsetNext(reply, uint16(base+len(reply)))
	copy(r.buf[base:base+len(reply)], reply)
	r.offset = base + len(reply)
	r.replyPending = true
	r.broadcastLocked()
	return nil
}

// EnqueueReply appends a pre-built command reply, retrying with
// backpressure while the ring is full and the device remains open.
// ctx cancellation (e.g. port close) aborts the wait.
func (r *Ring) EnqueueReply(ctx context.Context, reply []byte, baffleRequired bool) error {
	return r.enqueueWithBackoff(ctx, func() error {
		return r.enqueueReplyLocked(reply, baffleRequired)
	})
}

// enqueueEthLocked wraps payload in a passthrough header and appends
// it. Caller holds r.mu.
func (r *Ring) enqueueEthLocked(portSlot uint8, payload []byte) error {
	limit := r.maxSize - wire.HdrLen - 2
	if limit > MaxEthPayload {
		limit = MaxEthPayload
	}
	if len(payload) > limit {
		return ErrMessageTooLong
	}
	need := r.offset + wire.HdrLen + len(payload) + 2
	if need > r.maxSize {
		return ErrWouldOverflow
	}
	frame := wire.Frame{
		Header: wire.Header{Type: wire.TypeEthernet, Slot: portSlot},
		Body:   payload,
	}
	encoded := make([]byte, wire.HdrLen+len(payload))
	h := frame.Header
	h.OffsetNext = uint16(r.offset + len(encoded))
	binaryEncodeHeader(h, encoded[0:wire.HdrLen])
	copy(encoded[wire.HdrLen:], payload)
	copy(r.buf[r.offset:r.offset+len(encoded)], encoded)
	r.offset += len(encoded)
	r.dataPending = true
	r.broadcastLocked()
	return nil
}

// binaryEncodeHeader is a small local mirror of wire's unexported
// Header.encode, needed because ring builds the passthrough header
// itself rather than going through DecodeBatch/EncodeBatch.
func binaryEncodeHeader(h wire.Header, b []byte) {
	b[0] = byte(h.OffsetNext >> 8)
	b[1] = byte(h.OffsetNext)
	b[2] = h.Type
	b[3] = h.Slot
}

// EnqueueEth wraps payload in a passthrough header and appends it to
// the ring, retrying with backpressure while full.
func (r *Ring) EnqueueEth(ctx context.Context, portSlot uint8, payload []byte) error {
	return r.enqueueWithBackoff(ctx, func() error {
		return r.enqueueEthLocked(portSlot, payload)
	})
}

// enqueueWithBackoff is the retry-with-diagnostic loop shared by both
// enqueue operations: wait on the ring's wake channel
// while the ring is full, logging every diagInterval, until the
// attempt succeeds or the ring closes / ctx is cancelled.
func (r *Ring) enqueueWithBackoff(ctx context.Context, attempt func() error) error {
	waitStart := time.Time{}
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		err := attempt()
		if err == nil {
			r.mu.Unlock()
			return nil
		}
		if !errors.Is(err, ErrWouldOverflow) {
			r.mu.Unlock()
			return err
		}
		wake := r.wake
		r.mu.Unlock()

		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		if time.Since(waitStart) >= diagInterval {
			r.log.Warn("device ring full, producer blocked", slog.Duration("waiting", time.Since(waitStart)))
			waitStart = time.Now()
		}

		select {
		case <-wake:
		case <-time.After(diagInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DrainInto writes the batch terminator, copies up to len(out) bytes
// into out, and resets the ring. Returns the number of bytes copied
// and whether the ring held more than out could hold (the "more" flag;
// any surplus is discarded per the no-data-chaining non-goal).
func (r *Ring) DrainInto(out []byte) (n int, more bool, baffle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.offset + 2
	if total > len(r.buf) {
		// Defensive: should be unreachable given the overflow checks
		// on every enqueue, but never write past r.buf.
		total = len(r.buf)
	}
	// Terminator.
	r.buf[r.offset] = 0
	r.buf[r.offset+1] = 0
	if r.pendingBaffle {
		wire.StampBaffle(r.buf[:wire.BaffleLen], total)
	}

	n = total
	if n > len(out) {
		n = len(out)
		more = true
	}
	copy(out[:n], r.buf[:n])

	baffle = r.pendingBaffle
	r.offset = 0
	r.replyPending = false
	r.dataPending = false
	r.pendingBaffle = false
	r.broadcastLocked()
	return n, more, baffle
}

// WaitPending blocks until the ring has at least one pending frame, the
// context is cancelled, or timeout elapses, whichever comes first. It
// reports whether a frame is pending when it returns.
func (r *Ring) WaitPending(ctx context.Context, timeout time.Duration) (pending bool) {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		if r.replyPending || r.dataPending || r.closed {
			pending = r.replyPending || r.dataPending
			r.mu.Unlock()
			return pending
		}
		wake := r.wake
		r.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func init() {
	// Guard against silent drift between the two header bound constants.
	if wire.HdrLen != 4 {
		panic(fmt.Sprintf("ring: unexpected wire.HdrLen %d", wire.HdrLen))
	}
}
