package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/slashauth/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"
	addrB = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"
)

type logouts struct {
	mu      sync.Mutex
	reasons []string
}

func (l *logouts) logout(ctx context.Context, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reasons = append(l.reasons, reason)
}

func (l *logouts) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reasons)
}

func bound(t *testing.T) (*Binding, *logouts) {
	t.Helper()
	l := &logouts{}
	b := New(l.logout, zerolog.Nop())
	b.Bind(addrA)
	return b, l
}

func TestBinding_AccountChangedLogsOutOnce(t *testing.T) {
	b, l := bound(t)
	ctx := context.Background()

	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB})
	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB})

	assert.Equal(t, []string{ReasonAccountChanged}, l.reasons)
	_, ok := b.Bound()
	assert.False(t, ok)
}

func TestBinding_CasingIsNotAChange(t *testing.T) {
	b, l := bound(t)
	ctx := context.Background()

	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: strings.ToLower(addrA)})
	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: "0x" + strings.ToUpper(addrA[2:])})

	assert.Zero(t, l.count())
	got, ok := b.Bound()
	assert.True(t, ok)
	assert.Equal(t, addrA, got)
}

func TestBinding_DisconnectThenAccountChange(t *testing.T) {
	b, l := bound(t)
	ctx := context.Background()

	b.Handle(ctx, core.WalletEvent{Kind: core.WalletDisconnected})
	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB})

	assert.Equal(t, []string{ReasonDisconnected}, l.reasons)
}

func TestBinding_UnboundIgnoresEvents(t *testing.T) {
	l := &logouts{}
	b := New(l.logout, zerolog.Nop())

	b.Handle(context.Background(), core.WalletEvent{Kind: core.WalletDisconnected})
	assert.Zero(t, l.count())
}

func TestBinding_RebindAfterViolation(t *testing.T) {
	b, l := bound(t)
	ctx := context.Background()

	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB})
	b.Bind(addrB)
	b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrA})

	assert.Equal(t, []string{ReasonAccountChanged, ReasonAccountChanged}, l.reasons, "each violation fires once")
}

func TestBinding_ConcurrentEventsFireOnce(t *testing.T) {
	b, l := bound(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.Handle(ctx, core.WalletEvent{Kind: core.WalletDisconnected})
			} else {
				b.Handle(ctx, core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, l.count())
}

type chanSource chan core.WalletEvent

func (s chanSource) WalletEvents(ctx context.Context) (<-chan core.WalletEvent, error) {
	return s, nil
}

func TestBinding_Watch(t *testing.T) {
	b, l := bound(t)
	src := make(chanSource, 2)
	src <- core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrA}
	src <- core.WalletEvent{Kind: core.WalletAccountChanged, Address: addrB}
	close(src)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Watch(ctx, src))

	assert.Equal(t, []string{ReasonAccountChanged}, l.reasons)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress(addrA, strings.ToLower(addrA)))
	assert.False(t, SameAddress(addrA, addrB))
	assert.True(t, SameAddress("not-hex", "NOT-HEX"))
	assert.False(t, SameAddress(addrA, "not-hex"))
}
