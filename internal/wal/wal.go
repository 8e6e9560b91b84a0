// Package wal implements the device-write intent journal.
//
// Every device write is journaled before it is attempted and confirmed
// after it lands. If the daemon dies between the two, the next startup
// reads back the unconfirmed intents and re-reads those addresses from
// the device, so the history database never silently drifts from what
// the hardware actually holds.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"keymapd/internal/device"
)

const (
	Version    = 1
	Magic      = "KMWL"
	HeaderSize = 16

	recordSize = 25
)

// Record states.
type recordState uint8

const (
	stateIntent recordState = 1 // write is about to be attempted
	stateDone   recordState = 2 // write confirmed on the device
)

var (
	ErrInvalidMagic   = errors.New("wal: invalid magic number")
	ErrInvalidVersion = errors.New("wal: unsupported version")
	ErrClosed         = errors.New("wal: journal is closed")
	ErrUnknownSeq     = errors.New("wal: unknown sequence")
)

// Intent is one journaled device write.
type Intent struct {
	Seq   uint64
	Addr  device.Address
	Value uint16
}

// WAL is the intent journal. Safe for concurrent use.
type WAL struct {
	mu sync.Mutex

	path   string
	file   *os.File
	closed bool

	nextSeq uint64
	open    map[uint64]Intent // journaled but unconfirmed
}

// Open opens or creates the journal at path. Existing records are
// scanned so Recover sees intents left over from a crash; a corrupt
// tail record is treated as the end of the journal.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	w := &WAL{
		path: path,
		file: file,
		open: make(map[uint64]Intent),
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat wal file: %w", err)
	}

	if stat.Size() == 0 {
		if err := w.writeHeader(file); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		if _, err := file.Seek(HeaderSize, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seek after header: %w", err)
		}
	} else {
		if err := w.readHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("read header: %w", err)
		}
		if err := w.scanToEnd(); err != nil {
			file.Close()
			return nil, fmt.Errorf("scan wal: %w", err)
		}
	}

	return w, nil
}

func (w *WAL) writeHeader(f *os.File) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], Version)
	binary.BigEndian.PutUint64(buf[8:16], uint64(time.Now().UnixNano()))

	if _, err := f.WriteAt(buf, 0); err != nil {
		return err
	}
	return f.Sync()
}

func (w *WAL) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		return err
	}
	if string(buf[0:4]) != Magic {
		return ErrInvalidMagic
	}
	if v := binary.BigEndian.Uint32(buf[4:8]); v != Version {
		return fmt.Errorf("%w: got %d, expected %d", ErrInvalidVersion, v, Version)
	}
	return nil
}

// scanToEnd replays the journal into memory: intents collect in the
// open set, done records clear them.
func (w *WAL) scanToEnd() error {
	offset := int64(HeaderSize)
	buf := make([]byte, recordSize)

	for {
		n, err := w.file.ReadAt(buf, offset)
		if n < recordSize {
			// End of journal, or a torn final record from a crash
			// mid-write.
			if err != nil && err != io.EOF {
				return err
			}
			break
		}

		state, intent, ok := deserializeRecord(buf)
		if !ok {
			break
		}

		switch state {
		case stateIntent:
			w.open[intent.Seq] = intent
		case stateDone:
			delete(w.open, intent.Seq)
		}
		if intent.Seq >= w.nextSeq {
			w.nextSeq = intent.Seq + 1
		}

		offset += recordSize
	}

	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Append journals a write intent and syncs it to disk before
// returning. The returned sequence confirms the write via MarkDone.
func (w *WAL) Append(addr device.Address, value uint16) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	intent := Intent{Seq: w.nextSeq, Addr: addr, Value: value}
	if err := w.writeRecord(stateIntent, intent); err != nil {
		return 0, err
	}

	w.open[intent.Seq] = intent
	w.nextSeq++
	return intent.Seq, nil
}

// MarkDone confirms that the write for seq landed on the device.
func (w *WAL) MarkDone(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	intent, ok := w.open[seq]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSeq, seq)
	}

	if err := w.writeRecord(stateDone, intent); err != nil {
		return err
	}
	delete(w.open, seq)
	return nil
}

func (w *WAL) writeRecord(state recordState, intent Intent) error {
	data := serializeRecord(state, intent)
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync record: %w", err)
	}
	return nil
}

// Recover returns the journaled intents that were never confirmed, in
// sequence order. These are the addresses whose device state is
// unknown after a crash.
func (w *WAL) Recover() []Intent {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Intent, 0, len(w.open))
	for _, intent := range w.open {
		out = append(out, intent)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Seq < out[j-1].Seq; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// OpenCount returns the number of unconfirmed intents.
func (w *WAL) OpenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.open)
}

// Truncate rewrites the journal empty. Called on clean shutdown and
// after recovery resync, when every journaled intent is accounted for.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	newPath := w.path + ".new"
	newFile, err := os.Create(newPath)
	if err != nil {
		return err
	}
	if err := w.writeHeader(newFile); err != nil {
		newFile.Close()
		os.Remove(newPath)
		return err
	}
	if err := newFile.Close(); err != nil {
		os.Remove(newPath)
		return err
	}

	w.file.Close()
	if err := os.Rename(newPath, w.path); err != nil {
		return err
	}

	w.file, err = os.OpenFile(w.path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if _, err := w.file.Seek(HeaderSize, io.SeekStart); err != nil {
		return err
	}

	w.open = make(map[uint64]Intent)
	return nil
}

// Close closes the journal file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Path returns the journal file path.
func (w *WAL) Path() string {
	return w.path
}

// serializeRecord packs one fixed-size record:
//
//	seq u64 | state u8 | region u8 | layer u8 | row u8 | col u8 |
//	index u8 | slot u8 | value u16 | pad u16 | crc u32
func serializeRecord(state recordState, intent Intent) []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], intent.Seq)
	buf[8] = byte(state)
	buf[9] = byte(intent.Addr.Region)
	buf[10] = intent.Addr.Layer
	buf[11] = intent.Addr.Row
	buf[12] = intent.Addr.Col
	buf[13] = intent.Addr.Index
	buf[14] = intent.Addr.Slot
	binary.BigEndian.PutUint16(buf[15:17], intent.Value)
	// buf[17:21] reserved
	binary.BigEndian.PutUint32(buf[21:25], crc32.ChecksumIEEE(buf[:21]))
	return buf
}

func deserializeRecord(buf []byte) (recordState, Intent, bool) {
	if len(buf) < recordSize {
		return 0, Intent{}, false
	}
	if crc32.ChecksumIEEE(buf[:21]) != binary.BigEndian.Uint32(buf[21:25]) {
		return 0, Intent{}, false
	}

	state := recordState(buf[8])
	if state != stateIntent && state != stateDone {
		return 0, Intent{}, false
	}

	intent := Intent{
		Seq: binary.BigEndian.Uint64(buf[0:8]),
		Addr: device.Address{
			Region: device.Region(buf[9]),
			Layer:  buf[10],
			Row:    buf[11],
			Col:    buf[12],
			Index:  buf[13],
			Slot:   buf[14],
		},
		Value: binary.BigEndian.Uint16(buf[15:17]),
	}
	return state, intent, true
}
