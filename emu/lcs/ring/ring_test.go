package ring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

func TestEnqueueReplyAndDrain(t *testing.T) {
	r := New(MinBufferSize, nil)
	reply := wire.NewReply(wire.CmdHeader{Cmd: wire.CmdStartup}, wire.CmdHdrLen+6)

	if err := r.EnqueueReply(context.Background(), reply, false); err != nil {
		t.Fatalf("EnqueueReply: %v", err)
	}
	if !r.Pending() {
		t.Fatalf("expected ring to report pending after enqueue")
	}

	out := make([]byte, MinBufferSize)
	n, more, baffle := r.DrainInto(out)
	if more {
		t.Fatalf("unexpected more=true")
	}
	if baffle {
		t.Fatalf("unexpected baffle=true")
	}
	if n != len(reply)+2 {
		t.Fatalf("drained %d bytes, want %d", n, len(reply)+2)
	}
	if r.Pending() {
		t.Fatalf("expected ring to be empty after drain")
	}
}

func TestEnqueueReplyBaffleReservation(t *testing.T) {
	r := New(MinBufferSize, nil)
	reply := wire.NewReply(wire.CmdHeader{Cmd: wire.CmdSNAStrtLan}, wire.CmdHdrLen)

	if err := r.EnqueueReply(context.Background(), reply, true); err != nil {
		t.Fatalf("EnqueueReply: %v", err)
	}

	out := make([]byte, MinBufferSize)
	n, _, baffle := r.DrainInto(out)
	if !baffle {
		t.Fatalf("expected baffle reservation to be honored")
	}
	wantLen := wire.BaffleLen + len(reply) + 2
	if n != wantLen {
		t.Fatalf("drained %d bytes, want %d", n, wantLen)
	}
	isBaffle, inner := wire.DetectBaffle(out[:n])
	if !isBaffle {
		t.Fatalf("expected a detectable baffle envelope")
	}
	if len(inner) != len(reply)+2 {
		t.Fatalf("inner batch length %d, want %d", len(inner), len(reply)+2)
	}
}

func TestEnqueueEthTooLong(t *testing.T) {
	r := New(MinBufferSize, nil)
	payload := make([]byte, MaxEthPayload+1)
	err := r.enqueueEthLocked(0, payload)
	if err != ErrMessageTooLong {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestRingBoundInvariant(t *testing.T) {
	r := New(MinBufferSize, nil)
	payload := make([]byte, 100)
	count := 0
	for {
		err := r.enqueueEthLocked(0, payload)
		if err != nil {
			if err != ErrWouldOverflow {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		count++
		if r.offset < 0 || r.offset > r.maxSize {
			t.Fatalf("ring bound violated: offset=%d maxSize=%d", r.offset, r.maxSize)
		}
	}
	if count == 0 {
		t.Fatalf("expected at least one successful enqueue before overflow")
	}
}

// TestBackpressureLiveness exercises property 4: a producer blocked on a
// full ring eventually succeeds once a concurrent drain frees space.
func TestBackpressureLiveness(t *testing.T) {
	r := New(MinBufferSize, nil)
	payload := make([]byte, 512)

	// Fill the ring to capacity.
	for {
		if err := r.enqueueEthLocked(0, payload); err != nil {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- r.EnqueueEth(ctx, 0, payload)
	}()

	// Give the producer a moment to block, then drain the ring so it can
	// proceed.
	time.Sleep(20 * time.Millisecond)
	out := make([]byte, MinBufferSize)
	r.DrainInto(out)

	wg.Wait()
	if err := <-errCh; err != nil {
		t.Fatalf("expected backpressured enqueue to eventually succeed, got %v", err)
	}
}

func TestClampBufferSize(t *testing.T) {
	if got := ClampBufferSize(1024, MinBufferSize); got != MinBufferSize {
		t.Fatalf("expected fallback for too-small request, got %d", got)
	}
	if got := ClampBufferSize(128*1024, MinBufferSize); got != MinBufferSize {
		t.Fatalf("expected fallback for too-large request, got %d", got)
	}
	if got := ClampBufferSize(32*1024, MinBufferSize); got != 32*1024 {
		t.Fatalf("expected in-range request honored, got %d", got)
	}
}
