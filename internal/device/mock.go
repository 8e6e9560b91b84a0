package device

import (
	"context"
	"encoding/binary"
	"sync"
)

// Mock is an in-memory firmware used by tests and --mock runs. It
// implements the full report protocol against a backing matrix and
// feature store, and can be scripted to fail specific writes or to
// vanish mid-session.
type Mock struct {
	mu sync.Mutex

	info   Info
	cells  map[Address]uint16
	closed bool

	failAddrs map[Address]Status
	failAfter int // fail every write once this many have succeeded; -1 disabled
	writes    []MockWrite
	exchanges int
}

// MockWrite records one successful write seen by the mock.
type MockWrite struct {
	Addr  Address
	Value uint16
}

// NewMock builds a mock with the given geometry. All cells start at
// zero.
func NewMock(info Info) *Mock {
	if info.ProtocolVersion == 0 {
		info.ProtocolVersion = 1
	}
	return &Mock{
		info:      info,
		cells:     make(map[Address]uint16),
		failAddrs: make(map[Address]Status),
		failAfter: -1,
	}
}

// DefaultMockInfo is a plausible split-keyboard geometry for tests.
func DefaultMockInfo() Info {
	return Info{
		ProtocolVersion: 1,
		Layers:          4,
		Rows:            4,
		Cols:            12,
		Combos:          16,
		Macros:          8,
		TapDances:       8,
		AltRepeats:      8,
		Leaders:         8,
	}
}

// Seed sets a cell directly, bypassing the protocol.
func (m *Mock) Seed(addr Address, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[addr] = value
}

// Value reads a cell directly, bypassing the protocol.
func (m *Mock) Value(addr Address) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cells[addr]
}

// FailWrite scripts a status failure for every write to addr.
func (m *Mock) FailWrite(addr Address, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAddrs[addr] = st
}

// FailAfter makes every write fail once n writes have succeeded.
func (m *Mock) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// Writes returns the successful writes in order.
func (m *Mock) Writes() []MockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockWrite, len(m.writes))
	copy(out, m.writes)
	return out
}

// Exchanges returns the total number of exchanges served.
func (m *Mock) Exchanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// Exchange implements Transport.
func (m *Mock) Exchange(ctx context.Context, req Report) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Report{}, ErrDeviceGone
	}
	m.exchanges++

	var resp Report
	resp[0] = req[0]
	resp[1] = byte(StatusOK)

	switch Command(req[0]) {
	case CmdProtocolVersion:
		binary.BigEndian.PutUint16(resp[2:4], m.info.ProtocolVersion)

	case CmdDeviceInfo:
		binary.BigEndian.PutUint16(resp[2:4], m.info.ProtocolVersion)
		resp[4] = m.info.Layers
		resp[5] = m.info.Rows
		resp[6] = m.info.Cols
		resp[7] = m.info.Combos
		resp[8] = m.info.Macros
		resp[9] = m.info.TapDances
		resp[10] = m.info.AltRepeats
		resp[11] = m.info.Leaders

	case CmdGetCell:
		addr := KeyAddr(req[1], req[2], req[3])
		if !m.inRange(addr) {
			resp[1] = byte(StatusRange)
			break
		}
		binary.BigEndian.PutUint16(resp[2:4], m.cells[addr])

	case CmdSetCell:
		addr := KeyAddr(req[1], req[2], req[3])
		m.write(addr, binary.BigEndian.Uint16(req[4:6]), &resp)

	case CmdGetFeature:
		addr := Address{Region: Region(req[1]), Index: req[2], Slot: req[3]}
		if !m.inRange(addr) {
			resp[1] = byte(StatusRange)
			break
		}
		binary.BigEndian.PutUint16(resp[2:4], m.cells[addr])

	case CmdSetFeature:
		addr := Address{Region: Region(req[1]), Index: req[2], Slot: req[3]}
		m.write(addr, binary.BigEndian.Uint16(req[4:6]), &resp)

	case CmdResetPending:
		// no pending state to discard in the mock

	default:
		resp[1] = byte(StatusBadCmd)
	}

	return resp, nil
}

func (m *Mock) write(addr Address, value uint16, resp *Report) {
	if !m.inRange(addr) {
		resp[1] = byte(StatusRange)
		return
	}
	if st, ok := m.failAddrs[addr]; ok {
		resp[1] = byte(st)
		return
	}
	if m.failAfter >= 0 && len(m.writes) >= m.failAfter {
		resp[1] = byte(StatusBusy)
		return
	}
	m.cells[addr] = value
	m.writes = append(m.writes, MockWrite{Addr: addr, Value: value})
}

func (m *Mock) inRange(addr Address) bool {
	switch addr.Region {
	case RegionKey:
		return addr.Layer < m.info.Layers && addr.Row < m.info.Rows && addr.Col < m.info.Cols
	case RegionCombo:
		return addr.Index < m.info.Combos && addr.Slot <= ComboSlotOutput
	case RegionMacro:
		return addr.Index < m.info.Macros
	case RegionTapDance:
		return addr.Index < m.info.TapDances && addr.Slot <= TapDanceSlotTapHold
	case RegionAltRepeat:
		return addr.Index < m.info.AltRepeats && addr.Slot <= AltRepeatSlotEnabled
	case RegionLeader:
		return addr.Index < m.info.Leaders && addr.Slot <= LeaderSlotEnabled
	default:
		return false
	}
}

// Close makes every later exchange fail with ErrDeviceGone, as if the
// keyboard were unplugged.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
