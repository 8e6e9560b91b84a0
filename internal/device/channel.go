package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"keymapd/internal/keymap"
	"keymapd/internal/logging"
)

// MacroSlots is the number of packed action words per macro entry.
const MacroSlots = 16

// Channel is the daemon's exclusive handle on the keyboard. All report
// traffic goes through it, one exchange at a time, so concurrent IPC
// requests cannot interleave half-finished writes.
type Channel struct {
	mu      sync.Mutex
	log     *logging.Logger
	tr      Transport
	info    Info
	retries int
}

// NewChannel builds a detached channel.
func NewChannel(log *logging.Logger) *Channel {
	if log == nil {
		log = logging.Default()
	}
	return &Channel{log: log.WithComponent("device"), retries: 2}
}

// SetRetries sets how many times a busy write is retried.
func (c *Channel) SetRetries(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= 0 {
		c.retries = n
	}
}

// Attach binds a transport and probes the device. The channel owns the
// transport afterwards and closes it on Detach.
func (c *Channel) Attach(ctx context.Context, tr Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr != nil {
		return errors.New("device: channel already attached")
	}

	req := encodeProtocolVersion()
	resp, err := tr.Exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("device: probe: %w", err)
	}
	if err := checkResponse(req, resp); err != nil {
		return fmt.Errorf("device: probe: %w", err)
	}

	req = encodeDeviceInfo()
	resp, err = tr.Exchange(ctx, req)
	if err != nil {
		return fmt.Errorf("device: info: %w", err)
	}
	if err := checkResponse(req, resp); err != nil {
		return fmt.Errorf("device: info: %w", err)
	}

	c.tr = tr
	c.info = decodeInfo(resp)
	c.log.Info("device attached", "info", c.info.String())
	return nil
}

// Detach closes the transport. Safe to call when already detached.
func (c *Channel) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	c.info = Info{}
	c.log.Info("device detached")
	return err
}

// Connected reports whether a device is attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr != nil
}

// Info returns the probed device description.
func (c *Channel) Info() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.tr != nil
}

// Read fetches the 16-bit value at addr.
func (c *Channel) Read(ctx context.Context, addr Address) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return 0, ErrNotConnected
	}
	req := encodeRead(addr)
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("device: read %s: %w", addr, err)
	}
	return decodeUint16(resp), nil
}

// Write stores the 16-bit value at addr. Busy responses are retried.
func (c *Channel) Write(ctx context.Context, addr Address, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return ErrNotConnected
	}

	req := encodeWrite(addr, value)
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		_, err := c.exchange(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		if c.tr == nil {
			break
		}
		var pe *ProtocolError
		if !errors.As(err, &pe) || pe.Status != StatusBusy {
			break
		}
		c.log.Debug("device busy, retrying write", "addr", addr.String(), "attempt", attempt+1)
	}
	return fmt.Errorf("device: write %s: %w", addr, lastErr)
}

// ResetPending tells the firmware to discard any staged state.
func (c *Channel) ResetPending(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return ErrNotConnected
	}
	if _, err := c.exchange(ctx, encodeResetPending()); err != nil {
		return fmt.Errorf("device: reset pending: %w", err)
	}
	return nil
}

// ReadSnapshot pulls the full keymap off the device: every matrix cell
// plus all feature tables.
func (c *Channel) ReadSnapshot(ctx context.Context) (*keymap.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil, ErrNotConnected
	}

	snap := keymap.NewSnapshot(int(c.info.Layers), int(c.info.Rows), int(c.info.Cols))

	for layer := uint8(0); layer < c.info.Layers; layer++ {
		for row := uint8(0); row < c.info.Rows; row++ {
			for col := uint8(0); col < c.info.Cols; col++ {
				v, err := c.readLocked(ctx, KeyAddr(layer, row, col))
				if err != nil {
					return nil, err
				}
				snap.Matrix[layer][row][col] = v
			}
		}
	}

	for i := uint8(0); i < c.info.Combos; i++ {
		var cb keymap.Combo
		for s := uint8(ComboSlotInput0); s <= ComboSlotInput3; s++ {
			v, err := c.readLocked(ctx, ComboAddr(i, s))
			if err != nil {
				return nil, err
			}
			cb.Inputs[s] = v
		}
		out, err := c.readLocked(ctx, ComboAddr(i, ComboSlotOutput))
		if err != nil {
			return nil, err
		}
		cb.Output = out
		snap.Combos = append(snap.Combos, cb)
	}

	for i := uint8(0); i < c.info.Macros; i++ {
		var mc keymap.Macro
		for s := uint8(0); s < MacroSlots; s++ {
			v, err := c.readLocked(ctx, MacroAddr(i, s))
			if err != nil {
				return nil, err
			}
			mc.Steps = append(mc.Steps, v)
		}
		mc.Trim()
		snap.Macros = append(snap.Macros, mc)
	}

	for i := uint8(0); i < c.info.TapDances; i++ {
		var td keymap.TapDance
		slots := []*uint16{&td.Tap, &td.Hold, &td.DoubleTap, &td.TapHold}
		for s, dst := range slots {
			v, err := c.readLocked(ctx, TapDanceAddr(i, uint8(s)))
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		snap.TapDances = append(snap.TapDances, td)
	}

	for i := uint8(0); i < c.info.AltRepeats; i++ {
		var ar keymap.AltRepeatPair
		var err error
		if ar.When, err = c.readLocked(ctx, AltRepeatAddr(i, AltRepeatSlotWhen)); err != nil {
			return nil, err
		}
		if ar.Then, err = c.readLocked(ctx, AltRepeatAddr(i, AltRepeatSlotThen)); err != nil {
			return nil, err
		}
		en, err := c.readLocked(ctx, AltRepeatAddr(i, AltRepeatSlotEnabled))
		if err != nil {
			return nil, err
		}
		ar.Enabled = en != 0
		snap.AltRepeats = append(snap.AltRepeats, ar)
	}

	for i := uint8(0); i < c.info.Leaders; i++ {
		var ls keymap.LeaderSequence
		for s := uint8(LeaderSlotSeq0); s <= LeaderSlotSeq4; s++ {
			v, err := c.readLocked(ctx, LeaderAddr(i, s))
			if err != nil {
				return nil, err
			}
			ls.Sequence[s] = v
		}
		var err error
		if ls.Output, err = c.readLocked(ctx, LeaderAddr(i, LeaderSlotOutput)); err != nil {
			return nil, err
		}
		en, err := c.readLocked(ctx, LeaderAddr(i, LeaderSlotEnabled))
		if err != nil {
			return nil, err
		}
		ls.Enabled = en != 0
		snap.Leaders = append(snap.Leaders, ls)
	}

	return snap, nil
}

// readLocked is Read without taking the channel mutex; callers hold it.
func (c *Channel) readLocked(ctx context.Context, addr Address) (uint16, error) {
	req := encodeRead(addr)
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("device: read %s: %w", addr, err)
	}
	return decodeUint16(resp), nil
}

// exchange sends one report and validates the response. The caller
// holds the mutex. A gone device detaches the channel.
func (c *Channel) exchange(ctx context.Context, req Report) (Report, error) {
	resp, err := c.tr.Exchange(ctx, req)
	if err != nil {
		if errors.Is(err, ErrDeviceGone) {
			c.log.Warn("device gone mid-exchange")
			c.tr.Close()
			c.tr = nil
			c.info = Info{}
		}
		return resp, err
	}
	if err := checkResponse(req, resp); err != nil {
		return resp, err
	}
	return resp, nil
}
