package device

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The daemon and the firmware exchange fixed-size HID feature reports.
// Requests carry the command in byte 0; responses echo the command in
// byte 0 and carry a status in byte 1, payload from byte 2 on.
const ReportSize = 32

// Report is one raw exchange unit.
type Report [ReportSize]byte

// Command selects the firmware operation.
type Command uint8

const (
	CmdProtocolVersion Command = 0x01
	CmdDeviceInfo      Command = 0x02
	CmdGetCell         Command = 0x10
	CmdSetCell         Command = 0x11
	CmdGetFeature      Command = 0x12
	CmdSetFeature      Command = 0x13
	CmdResetPending    Command = 0x1F
)

// Status is the firmware's verdict in byte 1 of a response.
type Status uint8

const (
	StatusOK       Status = 0x00
	StatusBadCmd   Status = 0x01
	StatusRange    Status = 0x02
	StatusBusy     Status = 0x03
	StatusFWLocked Status = 0x04
	StatusInternal Status = 0x7F
)

var statusText = map[Status]string{
	StatusOK:       "ok",
	StatusBadCmd:   "unknown command",
	StatusRange:    "address out of range",
	StatusBusy:     "device busy",
	StatusFWLocked: "firmware locked",
	StatusInternal: "firmware internal error",
}

func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("status 0x%02x", uint8(s))
}

// ProtocolError reports a non-OK status from the firmware.
type ProtocolError struct {
	Cmd    Command
	Status Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("device: command 0x%02x failed: %s", uint8(e.Cmd), e.Status)
}

// ErrBadResponse reports a response that does not echo the request
// command, which means the exchange desynchronized.
var ErrBadResponse = errors.New("device: response does not match request")

// Info describes the connected device as reported by CmdDeviceInfo.
type Info struct {
	ProtocolVersion uint16
	Layers          uint8
	Rows            uint8
	Cols            uint8
	Combos          uint8
	Macros          uint8
	TapDances       uint8
	AltRepeats      uint8
	Leaders         uint8
}

func (i Info) String() string {
	return fmt.Sprintf("proto %d, %dx%dx%d matrix, %d combos, %d macros, %d tapdances",
		i.ProtocolVersion, i.Layers, i.Rows, i.Cols, i.Combos, i.Macros, i.TapDances)
}

func encodeProtocolVersion() Report {
	var r Report
	r[0] = byte(CmdProtocolVersion)
	return r
}

func encodeDeviceInfo() Report {
	var r Report
	r[0] = byte(CmdDeviceInfo)
	return r
}

func encodeRead(addr Address) Report {
	var r Report
	if addr.Region == RegionKey {
		r[0] = byte(CmdGetCell)
		r[1] = addr.Layer
		r[2] = addr.Row
		r[3] = addr.Col
		return r
	}
	r[0] = byte(CmdGetFeature)
	r[1] = byte(addr.Region)
	r[2] = addr.Index
	r[3] = addr.Slot
	return r
}

func encodeWrite(addr Address, value uint16) Report {
	var r Report
	if addr.Region == RegionKey {
		r[0] = byte(CmdSetCell)
		r[1] = addr.Layer
		r[2] = addr.Row
		r[3] = addr.Col
		binary.BigEndian.PutUint16(r[4:6], value)
		return r
	}
	r[0] = byte(CmdSetFeature)
	r[1] = byte(addr.Region)
	r[2] = addr.Index
	r[3] = addr.Slot
	binary.BigEndian.PutUint16(r[4:6], value)
	return r
}

func encodeResetPending() Report {
	var r Report
	r[0] = byte(CmdResetPending)
	return r
}

// checkResponse validates echo and status for a request report.
func checkResponse(req, resp Report) error {
	if resp[0] != req[0] {
		return fmt.Errorf("%w: sent 0x%02x, got 0x%02x", ErrBadResponse, req[0], resp[0])
	}
	if st := Status(resp[1]); st != StatusOK {
		return &ProtocolError{Cmd: Command(req[0]), Status: st}
	}
	return nil
}

func decodeUint16(resp Report) uint16 {
	return binary.BigEndian.Uint16(resp[2:4])
}

func decodeInfo(resp Report) Info {
	return Info{
		ProtocolVersion: binary.BigEndian.Uint16(resp[2:4]),
		Layers:          resp[4],
		Rows:            resp[5],
		Cols:            resp[6],
		Combos:          resp[7],
		Macros:          resp[8],
		TapDances:       resp[9],
		AltRepeats:      resp[10],
		Leaders:         resp[11],
	}
}
