package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSubscribeDeliversLatestTransition(t *testing.T) {
	conn := NewConnectivity(false)
	ch := conn.Subscribe()

	conn.Set(true)
	conn.Set(false)
	conn.Set(false)

	select {
	case v := <-ch:
		assert.False(t, v)
	default:
		t.Fatal("expected a transition")
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra transition %v", v)
	default:
	}
	assert.False(t, conn.Online())
}

type flakyChecker struct {
	mu  sync.Mutex
	err error
}

func (f *flakyChecker) Health(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func TestProberFeedsConnectivity(t *testing.T) {
	checker := &flakyChecker{err: errors.New("dial tcp: connection refused")}
	conn := NewConnectivity(true)
	prober := NewProber(checker, conn, time.Second, 100*time.Millisecond, zerolog.Nop())

	assert.False(t, prober.ProbeOnce(context.Background()))
	assert.False(t, conn.Online())

	checker.mu.Lock()
	checker.err = nil
	checker.mu.Unlock()
	assert.True(t, prober.ProbeOnce(context.Background()))
	assert.True(t, conn.Online())
}
