package changelog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/device"
	"keymapd/internal/keycode"
)

// applyRecorder collects applies in order and fails addresses on
// request.
type applyRecorder struct {
	applied []device.Address
	fail    map[device.Address]error
}

func newRecorder() *applyRecorder {
	return &applyRecorder{fail: make(map[device.Address]error)}
}

func (r *applyRecorder) apply(_ context.Context, addr device.Address, _ keycode.Wire) error {
	if err, ok := r.fail[addr]; ok {
		return err
	}
	r.applied = append(r.applied, addr)
	return nil
}

func wire(s string, n uint16) keycode.Wire {
	return keycode.Wire{Str: s, Num: n, HasNum: true}
}

func wirePtr(s string, n uint16) *keycode.Wire {
	w := wire(s, n)
	return &w
}

func TestQueueAndCommitInOrder(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)
	k3 := device.KeyAddr(0, 0, 2)

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), wirePtr("KC_NO", 0), r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), wirePtr("KC_NO", 0), r.apply))
	require.NoError(t, l.Queue(ctx, k3, wire("KC_C", 6), wirePtr("KC_NO", 0), r.apply))
	assert.Equal(t, 3, l.Len())

	n, err := l.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []device.Address{k1, k2, k3}, r.applied)
	assert.Equal(t, 0, l.Len())
}

func TestRequeuePreservesFirstBaseline(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()
	addr := device.KeyAddr(1, 2, 3)

	require.NoError(t, l.Queue(ctx, addr, wire("KC_A", 4), wirePtr("KC_Q", 20), r.apply))
	// Second edit to the same key: a different "baseline" arrives but
	// must not displace the one captured first.
	require.NoError(t, l.Queue(ctx, addr, wire("KC_B", 5), wirePtr("KC_A", 4), r.apply))

	assert.Equal(t, 1, l.Len())
	ch, ok := l.Get(addr)
	require.True(t, ok)
	assert.Equal(t, "KC_B", ch.Value.Str)
	require.NotNil(t, ch.Baseline)
	assert.Equal(t, "KC_Q", ch.Baseline.Str)
}

func TestRequeueKeepsQueuePosition(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), nil, r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), nil, r.apply))
	require.NoError(t, l.Queue(ctx, k1, wire("KC_C", 6), nil, r.apply))

	pending := l.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, k1, pending[0].Addr)
	assert.Equal(t, "KC_C", pending[0].Value.Str)
	assert.Equal(t, k2, pending[1].Addr)
}

func TestCommitStopsAtFirstFailure(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)
	k3 := device.KeyAddr(0, 0, 2)
	boom := errors.New("device busy")
	r.fail[k2] = boom

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), nil, r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), nil, r.apply))
	require.NoError(t, l.Queue(ctx, k3, wire("KC_C", 6), nil, r.apply))

	n, err := l.Commit(ctx)
	assert.Equal(t, 1, n)
	require.Error(t, err)

	var ce *CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, k2, ce.Addr)
	assert.Equal(t, 1, ce.Applied)
	assert.ErrorIs(t, err, boom)

	// k1 is gone; k2 and k3 survive in order.
	assert.Equal(t, []device.Address{k1}, r.applied)
	pending := l.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, k2, pending[0].Addr)
	assert.Equal(t, k3, pending[1].Addr)

	// Fixing the fault lets the rest drain.
	delete(r.fail, k2)
	n, err = l.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, l.Len())
}

func TestRevertRestoresBaselines(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), wirePtr("KC_Q", 20), r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), wirePtr("KC_W", 26), r.apply))

	var restored []uint16
	n, err := l.Revert(ctx, func(_ context.Context, _ device.Address, baseline keycode.Wire) error {
		restored = append(restored, baseline.Num)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint16{20, 26}, restored)
	assert.Equal(t, 0, l.Len())
}

func TestRevertSkipsMissingBaseline(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), nil, r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), wirePtr("KC_W", 26), r.apply))

	var restored []device.Address
	n, err := l.Revert(ctx, func(_ context.Context, addr device.Address, _ keycode.Wire) error {
		restored = append(restored, addr)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []device.Address{k2}, restored)
	assert.Equal(t, 0, l.Len())
}

func TestRevertStopsOnRestoreFailure(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	k1 := device.KeyAddr(0, 0, 0)
	k2 := device.KeyAddr(0, 0, 1)

	require.NoError(t, l.Queue(ctx, k1, wire("KC_A", 4), wirePtr("KC_Q", 20), r.apply))
	require.NoError(t, l.Queue(ctx, k2, wire("KC_B", 5), wirePtr("KC_W", 26), r.apply))

	boom := errors.New("write failed")
	n, err := l.Revert(ctx, func(_ context.Context, addr device.Address, _ keycode.Wire) error {
		if addr == k1 {
			return boom
		}
		return nil
	})
	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// Both entries survive for a later retry.
	assert.Equal(t, 2, l.Len())
}

func TestInstantModeAppliesInline(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()
	l.SetInstant(true)
	require.True(t, l.Instant())

	addr := device.KeyAddr(0, 0, 0)
	require.NoError(t, l.Queue(ctx, addr, wire("KC_A", 4), wirePtr("KC_NO", 0), r.apply))

	assert.Equal(t, []device.Address{addr}, r.applied)
	assert.Equal(t, 0, l.Len())
}

func TestInstantFailureLeavesNoTrace(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()
	l.SetInstant(true)

	addr := device.KeyAddr(0, 0, 0)
	boom := errors.New("locked")
	r.fail[addr] = boom

	err := l.Queue(ctx, addr, wire("KC_A", 4), nil, r.apply)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Len())
}

func TestClear(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	require.NoError(t, l.Queue(ctx, device.KeyAddr(0, 0, 0), wire("KC_A", 4), nil, r.apply))
	require.NoError(t, l.Queue(ctx, device.KeyAddr(0, 0, 1), wire("KC_B", 5), nil, r.apply))

	assert.Equal(t, 2, l.Clear())
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, r.applied)
}

func TestNotifyFires(t *testing.T) {
	l := New(nil)
	r := newRecorder()
	ctx := context.Background()

	fired := 0
	l.SetNotify(func() { fired++ })

	require.NoError(t, l.Queue(ctx, device.KeyAddr(0, 0, 0), wire("KC_A", 4), nil, r.apply))
	_, err := l.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
}
