package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachedChannel(t *testing.T) (*Channel, *Mock) {
	t.Helper()
	m := NewMock(DefaultMockInfo())
	c := NewChannel(nil)
	require.NoError(t, c.Attach(context.Background(), m))
	return c, m
}

func TestAddressString(t *testing.T) {
	cases := []struct {
		addr Address
		want string
	}{
		{KeyAddr(2, 3, 4), "key:2.3.4"},
		{ComboAddr(1, ComboSlotOutput), "combo:1.out"},
		{ComboAddr(1, 2), "combo:1.2"},
		{TapDanceAddr(0, TapDanceSlotHold), "tapdance:0.hold"},
		{AltRepeatAddr(3, AltRepeatSlotWhen), "altrepeat:3.when"},
		{LeaderAddr(2, LeaderSlotEnabled), "leader:2.enabled"},
		{MacroAddr(5, 0), "macro:5.0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.addr.String())

		back, err := ParseAddress(tc.want)
		require.NoError(t, err, tc.want)
		assert.Equal(t, tc.addr, back, tc.want)
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"key",
		"key:1.2",
		"key:1.2.3.4",
		"key:1.2.x",
		"pedal:0.1",
		"combo:1",
		"combo:1.nope",
		"key:300.0.0",
	} {
		_, err := ParseAddress(s)
		assert.Error(t, err, s)
	}
}

func TestAttachProbesDevice(t *testing.T) {
	c, _ := attachedChannel(t)

	info, ok := c.Info()
	require.True(t, ok)
	assert.Equal(t, uint16(1), info.ProtocolVersion)
	assert.Equal(t, uint8(4), info.Layers)
	assert.Equal(t, uint8(12), info.Cols)
	assert.True(t, c.Connected())
}

func TestReadWriteCell(t *testing.T) {
	c, m := attachedChannel(t)
	ctx := context.Background()
	addr := KeyAddr(1, 2, 3)

	require.NoError(t, c.Write(ctx, addr, 0x0116))
	v, err := c.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0116), v)
	assert.Equal(t, []MockWrite{{Addr: addr, Value: 0x0116}}, m.Writes())
}

func TestFeatureSlots(t *testing.T) {
	c, _ := attachedChannel(t)
	ctx := context.Background()

	addr := ComboAddr(0, ComboSlotOutput)
	require.NoError(t, c.Write(ctx, addr, 0x0029))

	v, err := c.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0029), v)
}

func TestOutOfRangeIsProtocolError(t *testing.T) {
	c, _ := attachedChannel(t)
	ctx := context.Background()

	err := c.Write(ctx, KeyAddr(9, 0, 0), 1)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StatusRange, pe.Status)
}

func TestScriptedWriteFailure(t *testing.T) {
	c, m := attachedChannel(t)
	ctx := context.Background()

	bad := KeyAddr(0, 0, 1)
	m.FailWrite(bad, StatusInternal)

	require.NoError(t, c.Write(ctx, KeyAddr(0, 0, 0), 10))
	err := c.Write(ctx, bad, 11)
	require.Error(t, err)

	// The failed write must not land.
	assert.Equal(t, uint16(0), m.Value(bad))
}

func TestDetachedChannelErrors(t *testing.T) {
	c := NewChannel(nil)
	ctx := context.Background()

	_, err := c.Read(ctx, KeyAddr(0, 0, 0))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Write(ctx, KeyAddr(0, 0, 0), 1), ErrNotConnected)
	assert.ErrorIs(t, c.ResetPending(ctx), ErrNotConnected)
	_, err = c.ReadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDeviceGoneDetaches(t *testing.T) {
	c, m := attachedChannel(t)
	ctx := context.Background()

	m.Close()
	_, err := c.Read(ctx, KeyAddr(0, 0, 0))
	require.Error(t, err)
	assert.False(t, c.Connected())
}

func TestReadSnapshotGeometry(t *testing.T) {
	c, m := attachedChannel(t)
	ctx := context.Background()

	m.Seed(KeyAddr(0, 0, 0), 0x0004)
	m.Seed(KeyAddr(3, 3, 11), 0x0001)
	m.Seed(ComboAddr(2, ComboSlotOutput), 0x0029)
	m.Seed(TapDanceAddr(1, TapDanceSlotHold), 0x00E0)
	m.Seed(AltRepeatAddr(0, AltRepeatSlotEnabled), 1)

	snap, err := c.ReadSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Layers)
	assert.Equal(t, 4, snap.Rows)
	assert.Equal(t, 12, snap.Cols)
	assert.Equal(t, uint16(0x0004), snap.Matrix[0][0][0])
	assert.Equal(t, uint16(0x0001), snap.Matrix[3][3][11])
	assert.Equal(t, uint16(0x0029), snap.Combos[2].Output)
	assert.Equal(t, uint16(0x00E0), snap.TapDances[1].Hold)
	assert.True(t, snap.AltRepeats[0].Enabled)
	assert.Len(t, snap.Leaders, 8)
}
