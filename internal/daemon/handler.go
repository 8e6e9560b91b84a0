package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"keymapd/internal/changelog"
	"keymapd/internal/device"
	"keymapd/internal/ipc"
	"keymapd/internal/keycode"
	"keymapd/internal/keymap"
	"keymapd/internal/session"
	"keymapd/internal/store"
)

// handler adapts daemon operations to the IPC message surface.
type handler struct {
	d *Daemon

	mu      sync.Mutex
	editors map[string]string // ipc client ID -> edit session ID
}

func newHandler(d *Daemon) *handler {
	return &handler{d: d, editors: make(map[string]string)}
}

func (h *handler) HandleMessage(ctx context.Context, client *ipc.ClientConn, msg *ipc.Message) (*ipc.Message, error) {
	start := time.Now()
	resp, err := h.dispatch(ctx, client, msg)
	success := err == nil && (resp == nil || resp.Header.Type != ipc.MsgError)
	h.d.met.RecordIPCRequest(time.Since(start), success)
	return resp, err
}

func (h *handler) dispatch(ctx context.Context, client *ipc.ClientConn, msg *ipc.Message) (*ipc.Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case ipc.MsgStatusRequest:
		return h.handleStatus(id)
	case ipc.MsgGetLayout, ipc.MsgExportLayout:
		return h.handleExport(msg.Header.Type, id)
	case ipc.MsgGetKey:
		return h.handleGetKey(id, msg.Payload)
	case ipc.MsgSetKey:
		return h.handleSetKey(ctx, id, msg.Payload)
	case ipc.MsgRecompose:
		return h.handleRecompose(ctx, client, id, msg.Payload)
	case ipc.MsgPending:
		return h.handlePending(id)
	case ipc.MsgCommit:
		return h.handleCommit(ctx, id)
	case ipc.MsgRevert:
		return h.handleRevert(ctx, id)
	case ipc.MsgClear:
		return h.handleClear(id)
	case ipc.MsgSetInstant:
		return h.handleSetInstant(ctx, id, msg.Payload)
	case ipc.MsgGetHistory:
		return h.handleHistory(id, msg.Payload)
	case ipc.MsgImportLayout:
		return h.handleImport(ctx, id, msg.Payload)
	case ipc.MsgSnapshotSave:
		return h.handleSnapshotSave(id, msg.Payload)
	case ipc.MsgSnapshotList:
		return h.handleSnapshotList(id)
	case ipc.MsgSnapshotRestore:
		return h.handleSnapshotRestore(ctx, id, msg.Payload)
	case ipc.MsgShutdown:
		h.d.stopOnce.Do(func() { close(h.d.stopChan) })
		return ipc.NewMessage(ipc.MsgShutdown, id, nil), nil
	default:
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest,
			fmt.Sprintf("unknown message type %#04x", uint16(msg.Header.Type))), nil
	}
}

// render spells a raw device value in its canonical string form.
func (d *Daemon) render(v uint16) string {
	d.mu.RLock()
	c := d.codec
	d.mu.RUnlock()

	desc := c.DecodeNumeric(v)
	if w, err := c.Encode(desc); err == nil {
		return w.Str
	}
	return desc.String()
}

// encodeKeycode turns user input into a device-writable wire value.
func (d *Daemon) encodeKeycode(s string) (keycode.Wire, error) {
	d.mu.RLock()
	c := d.codec
	d.mu.RUnlock()

	w, err := c.Encode(c.DecodeString(s))
	if err != nil {
		return keycode.Wire{}, err
	}
	if !w.HasNum {
		return keycode.Wire{}, fmt.Errorf("%q has no device representation", s)
	}
	return w, nil
}

// mirrorRead reads the daemon's copy of an address.
func (d *Daemon) mirrorRead(addr device.Address) (uint16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mirror == nil {
		return 0, ErrNoDevice
	}
	return mirrorValue(d.mirror, addr)
}

func (d *Daemon) mirrorClone() *keymap.Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mirror == nil {
		return nil
	}
	return d.mirror.Clone()
}

func (h *handler) handleStatus(id uint32) (*ipc.Message, error) {
	d := h.d

	resp := &ipc.StatusResponse{
		Version:        d.version,
		StartedAt:      d.startedAt,
		Uptime:         time.Since(d.startedAt),
		PendingChanges: d.journal.Len(),
		InstantMode:    d.journal.Instant(),
		ActiveSessions: d.currentSessions().Len(),
		Clients:        d.server.ClientCount(),
	}

	if info, ok := d.channel.Info(); ok {
		d.mu.RLock()
		path := d.devPath
		d.mu.RUnlock()
		resp.Device = ipc.DeviceStatus{
			Connected:       true,
			Path:            path,
			ProtocolVersion: info.ProtocolVersion,
			Layers:          info.Layers,
			Rows:            info.Rows,
			Cols:            info.Cols,
			Combos:          info.Combos,
			Macros:          info.Macros,
			TapDances:       info.TapDances,
		}
	}
	if mirror := d.mirrorClone(); mirror != nil {
		resp.Fingerprint = mirror.Fingerprint()
	}

	return ipc.NewResponse(ipc.MsgStatusResponse, id, resp)
}

func (h *handler) handleExport(reqType ipc.MessageType, id uint32) (*ipc.Message, error) {
	d := h.d
	mirror := d.mirrorClone()
	if mirror == nil {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device state available"), nil
	}

	d.mu.RLock()
	codec := d.codec
	d.mu.RUnlock()

	doc, err := keymap.Export(mirror, codec)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	respType := ipc.MsgGetLayoutResp
	if reqType == ipc.MsgExportLayout {
		respType = ipc.MsgExportLayoutResp
	}
	return ipc.NewResponse(respType, id, &ipc.GetLayoutResponse{
		Layout:      doc,
		Fingerprint: mirror.Fingerprint(),
	})
}

func (h *handler) handleGetKey(id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.GetKeyRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid get request"), nil
	}

	addr, err := device.ParseAddress(req.Address)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadAddress, err.Error()), nil
	}

	v, err := h.d.mirrorRead(addr)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return ipc.NewErrorMessage(id, ipc.ErrNoDevice, err.Error()), nil
		}
		return ipc.NewErrorMessage(id, ipc.ErrBadAddress, err.Error()), nil
	}

	_, pending := h.d.journal.Get(addr)
	return ipc.NewResponse(ipc.MsgGetKeyResp, id, &ipc.GetKeyResponse{
		Address: addr.String(),
		Keycode: h.d.render(v),
		Raw:     v,
		Pending: pending,
	})
}

// stageValue queues one change with the mirror value as its baseline.
func (h *handler) stageValue(ctx context.Context, addr device.Address, value keycode.Wire) (old uint16, err error) {
	d := h.d

	old, err = d.mirrorRead(addr)
	if err != nil {
		return 0, err
	}

	baseline := keycode.Numeric(old)
	err = d.journal.Queue(ctx, addr, value, &baseline, d.applyChange)
	d.checkDeviceAfter(err)
	if err != nil {
		return old, err
	}
	d.met.RecordQueued()
	return old, nil
}

// recordInstantBatch writes history for changes that instant mode
// already put on the device.
func (h *handler) recordInstantBatch(entries []store.HistoryEntry) string {
	d := h.d
	if len(entries) == 0 {
		return ""
	}

	batchID := uuid.NewString()
	var fp string
	if mirror := d.mirrorClone(); mirror != nil {
		fp = mirror.Fingerprint()
	}
	b := &store.Batch{
		BatchID:     batchID,
		AppliedAt:   time.Now().Unix(),
		EntryCount:  len(entries),
		Fingerprint: fp,
	}
	for i := range entries {
		entries[i].BatchID = batchID
		entries[i].AppliedAt = b.AppliedAt
	}
	if err := d.db.RecordBatch(b, entries); err != nil {
		d.log.Warn("record history batch", "batch", batchID, "error", err)
	}
	d.broadcast(ipc.EventCommitApplied, ipc.CommitAppliedEvent{
		BatchID:     batchID,
		Applied:     len(entries),
		Fingerprint: fp,
	})
	return batchID
}

func (h *handler) handleSetKey(ctx context.Context, id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.SetKeyRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid set request"), nil
	}

	d := h.d
	addr, err := device.ParseAddress(req.Address)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadAddress, err.Error()), nil
	}
	value, err := d.encodeKeycode(req.Keycode)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadKeycode, err.Error()), nil
	}

	instant := d.journal.Instant()
	if instant && !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	old, err := h.stageValue(ctx, addr, value)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	if instant {
		oldNum := old
		h.recordInstantBatch([]store.HistoryEntry{{
			Address:  addr.String(),
			OldValue: &oldNum,
			NewValue: value.Num,
		}})
	}

	return ipc.NewResponse(ipc.MsgSetKeyResp, id, &ipc.SetKeyResponse{
		Address: addr.String(),
		Old:     d.render(old),
		New:     value.Str,
		Applied: instant,
		Pending: d.journal.Len(),
	})
}

// editorFor returns the edit session bound to an IPC client, creating
// one as needed.
func (h *handler) editorFor(clientID string) *sessionEditor {
	reg := h.d.currentSessions()

	h.mu.Lock()
	defer h.mu.Unlock()

	if sid, ok := h.editors[clientID]; ok {
		if ed, err := reg.Get(sid); err == nil {
			return &sessionEditor{ed: ed}
		}
	}
	ed := reg.Create()
	h.editors[clientID] = ed.ID()
	return &sessionEditor{ed: ed}
}

// sessionEditor runs one select/toggle/chord round against an edit
// session.
type sessionEditor struct {
	ed *session.Editor
}

func (s *sessionEditor) recompose(addr device.Address, current uint16, mods keycode.Modifier, tap bool) (keycode.Wire, error) {
	s.ed.Select(addr, keycode.Numeric(current))
	for _, bit := range mods.Split() {
		if err := s.ed.ToggleMod(bit); err != nil {
			return keycode.Wire{}, err
		}
	}
	if tap {
		if err := s.ed.SetKind(keycode.WrapTap); err != nil {
			return keycode.Wire{}, err
		}
	}
	return s.ed.Chord()
}

func (h *handler) handleRecompose(ctx context.Context, client *ipc.ClientConn, id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.RecomposeRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid recompose request"), nil
	}

	d := h.d
	addr, err := device.ParseAddress(req.Address)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadAddress, err.Error()), nil
	}
	mods, err := keycode.ParseModifiers(req.Mods)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadKeycode, err.Error()), nil
	}

	current, err := d.mirrorRead(addr)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return ipc.NewErrorMessage(id, ipc.ErrNoDevice, err.Error()), nil
		}
		return ipc.NewErrorMessage(id, ipc.ErrBadAddress, err.Error()), nil
	}

	ed := h.editorFor(client.ID)
	chord, err := ed.recompose(addr, current, mods, req.Tap)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrBadKeycode, err.Error()), nil
	}
	if !chord.HasNum {
		return ipc.NewErrorMessage(id, ipc.ErrBadKeycode,
			fmt.Sprintf("%q has no device representation", chord.Str)), nil
	}

	instant := d.journal.Instant()
	if instant && !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	old, err := h.stageValue(ctx, addr, chord)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}
	if instant {
		oldNum := old
		h.recordInstantBatch([]store.HistoryEntry{{
			Address:  addr.String(),
			OldValue: &oldNum,
			NewValue: chord.Num,
		}})
	}

	return ipc.NewResponse(ipc.MsgRecomposeResp, id, &ipc.RecomposeResponse{
		Address: addr.String(),
		Old:     d.render(old),
		New:     chord.Str,
		Pending: d.journal.Len(),
	})
}

func (h *handler) handlePending(id uint32) (*ipc.Message, error) {
	d := h.d
	pending := d.journal.Pending()

	changes := make([]ipc.PendingChange, 0, len(pending))
	for _, ch := range pending {
		pc := ipc.PendingChange{
			Address:  ch.Addr.String(),
			New:      ch.Value.Str,
			QueuedAt: ch.QueuedAt,
		}
		if ch.Baseline != nil && ch.Baseline.HasNum {
			pc.Old = d.render(ch.Baseline.Num)
		}
		changes = append(changes, pc)
	}

	return ipc.NewResponse(ipc.MsgPendingResp, id, &ipc.PendingResponse{
		Changes: changes,
		Instant: d.journal.Instant(),
	})
}

func (h *handler) handleCommit(ctx context.Context, id uint32) (*ipc.Message, error) {
	d := h.d

	if d.journal.Len() == 0 {
		return ipc.NewResponse(ipc.MsgCommitResp, id, &ipc.CommitResponse{})
	}
	if !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	before := d.journal.Pending()
	start := time.Now()
	applied, err := d.journal.Commit(ctx)
	d.met.RecordCommit(time.Since(start), err == nil)
	d.checkDeviceAfter(err)

	resp := &ipc.CommitResponse{
		Applied:   applied,
		Remaining: d.journal.Len(),
	}

	if applied > 0 {
		batchID := uuid.NewString()
		now := time.Now().Unix()
		var fp string
		if mirror := d.mirrorClone(); mirror != nil {
			fp = mirror.Fingerprint()
		}

		entries := make([]store.HistoryEntry, 0, applied)
		for _, ch := range before[:applied] {
			e := store.HistoryEntry{
				BatchID:   batchID,
				AppliedAt: now,
				Address:   ch.Addr.String(),
				NewValue:  ch.Value.Num,
			}
			if ch.Baseline != nil && ch.Baseline.HasNum {
				old := ch.Baseline.Num
				e.OldValue = &old
			}
			entries = append(entries, e)
		}

		b := &store.Batch{
			BatchID:     batchID,
			AppliedAt:   now,
			EntryCount:  applied,
			Fingerprint: fp,
		}
		if dbErr := d.db.RecordBatch(b, entries); dbErr != nil {
			d.log.Warn("record history batch", "batch", batchID, "error", dbErr)
		}

		resp.BatchID = batchID
		resp.Fingerprint = fp
		d.broadcast(ipc.EventCommitApplied, ipc.CommitAppliedEvent{
			BatchID:     batchID,
			Applied:     applied,
			Fingerprint: fp,
		})
		d.log.Info("commit applied", "batch", batchID, "changes", applied)
	}

	if err != nil {
		var ce *changelog.CommitError
		if errors.As(err, &ce) {
			resp.FailedAddr = ce.Addr.String()
		}
		resp.Error = err.Error()
	}

	return ipc.NewResponse(ipc.MsgCommitResp, id, resp)
}

func (h *handler) handleRevert(ctx context.Context, id uint32) (*ipc.Message, error) {
	d := h.d

	if d.journal.Len() == 0 {
		return ipc.NewResponse(ipc.MsgRevertResp, id, &ipc.RevertResponse{})
	}
	if !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	restored, err := d.journal.Revert(ctx, d.restoreBaseline)
	d.met.RecordRevert()
	d.checkDeviceAfter(err)

	resp := &ipc.RevertResponse{
		Restored:  restored,
		Remaining: d.journal.Len(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return ipc.NewResponse(ipc.MsgRevertResp, id, resp)
}

func (h *handler) handleClear(id uint32) (*ipc.Message, error) {
	dropped := h.d.journal.Clear()
	return ipc.NewResponse(ipc.MsgClearResp, id, &ipc.ClearResponse{Dropped: dropped})
}

func (h *handler) handleSetInstant(ctx context.Context, id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.SetInstantRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid instant request"), nil
	}

	d := h.d
	d.journal.SetInstant(req.Instant)
	d.broadcast(ipc.EventInstantChanged, nil)

	return ipc.NewResponse(ipc.MsgSetInstantResp, id, &ipc.SetInstantResponse{
		Instant: d.journal.Instant(),
		Pending: d.journal.Len(),
	})
}

func (h *handler) handleHistory(id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.GetHistoryRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid history request"), nil
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	d := h.d
	var (
		rows []store.HistoryEntry
		err  error
	)
	if req.Batch != "" {
		rows, err = d.db.HistoryForBatch(req.Batch)
	} else {
		rows, err = d.db.History(req.Limit, req.Offset)
	}
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	entries := make([]ipc.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		e := ipc.HistoryEntry{
			BatchID:   r.BatchID,
			AppliedAt: time.Unix(r.AppliedAt, 0),
			Address:   r.Address,
			New:       d.render(r.NewValue),
		}
		if r.OldValue != nil {
			e.Old = d.render(*r.OldValue)
		}
		entries = append(entries, e)
	}

	return ipc.NewResponse(ipc.MsgGetHistoryResp, id, &ipc.GetHistoryResponse{Entries: entries})
}

// stageSnapshot queues every difference between the mirror and a
// target snapshot.
func (h *handler) stageSnapshot(ctx context.Context, want *keymap.Snapshot) (int, error) {
	d := h.d

	have := d.mirrorClone()
	if have == nil {
		return 0, ErrNoDevice
	}

	diffs, err := diffSnapshots(have, want)
	if err != nil {
		return 0, err
	}

	instant := d.journal.Instant()
	var entries []store.HistoryEntry
	for i, sw := range diffs {
		if _, err := h.stageValue(ctx, sw.addr, keycode.Numeric(sw.new)); err != nil {
			return i, fmt.Errorf("stage %s: %w", sw.addr.String(), err)
		}
		if instant {
			old := sw.old
			entries = append(entries, store.HistoryEntry{
				Address:  sw.addr.String(),
				OldValue: &old,
				NewValue: sw.new,
			})
		}
	}
	if instant {
		h.recordInstantBatch(entries)
	}
	return len(diffs), nil
}

func (h *handler) handleImport(ctx context.Context, id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.ImportLayoutRequest
	if err := ipc.Decode(payload, &req); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid import request"), nil
	}

	d := h.d
	d.mu.RLock()
	codec := d.codec
	d.mu.RUnlock()

	want, err := keymap.Import(req.Layout, codec)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, err.Error()), nil
	}

	instant := d.journal.Instant()
	if instant && !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	queued, err := h.stageSnapshot(ctx, want)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return ipc.NewErrorMessage(id, ipc.ErrNoDevice, err.Error()), nil
		}
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	return ipc.NewResponse(ipc.MsgImportLayoutResp, id, &ipc.ImportLayoutResponse{
		Queued:  queued,
		Applied: instant,
	})
}

func (h *handler) handleSnapshotSave(id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.SnapshotSaveRequest
	if err := ipc.Decode(payload, &req); err != nil || req.Name == "" {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid snapshot request"), nil
	}

	d := h.d
	mirror := d.mirrorClone()
	if mirror == nil {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device state available"), nil
	}

	d.mu.RLock()
	codec := d.codec
	d.mu.RUnlock()

	doc, err := keymap.Export(mirror, codec)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	fp := mirror.Fingerprint()
	if err := d.db.SaveSnapshot(req.Name, fp, doc); err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}
	d.log.Info("snapshot saved", "name", req.Name, "fingerprint", fp)

	return ipc.NewResponse(ipc.MsgSnapshotSaveResp, id, &ipc.SnapshotSaveResponse{
		Name:        req.Name,
		Fingerprint: fp,
	})
}

func (h *handler) handleSnapshotList(id uint32) (*ipc.Message, error) {
	rows, err := h.d.db.ListSnapshots()
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	infos := make([]ipc.SnapshotInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, ipc.SnapshotInfo{
			Name:        r.Name,
			CreatedAt:   time.Unix(r.CreatedAt, 0),
			Fingerprint: r.Fingerprint,
		})
	}

	return ipc.NewResponse(ipc.MsgSnapshotListResp, id, &ipc.SnapshotListResponse{Snapshots: infos})
}

func (h *handler) handleSnapshotRestore(ctx context.Context, id uint32, payload []byte) (*ipc.Message, error) {
	var req ipc.SnapshotRestoreRequest
	if err := ipc.Decode(payload, &req); err != nil || req.Name == "" {
		return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "invalid restore request"), nil
	}

	d := h.d
	snap, err := d.db.GetSnapshot(req.Name)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}
	if snap == nil {
		return ipc.NewErrorMessage(id, ipc.ErrNotFound,
			fmt.Sprintf("no snapshot named %q", req.Name)), nil
	}

	d.mu.RLock()
	codec := d.codec
	d.mu.RUnlock()

	want, err := keymap.Import(snap.Layout, codec)
	if err != nil {
		return ipc.NewErrorMessage(id, ipc.ErrInternalError,
			fmt.Sprintf("stored snapshot invalid: %v", err)), nil
	}

	instant := d.journal.Instant()
	if instant && !d.channel.Connected() {
		return ipc.NewErrorMessage(id, ipc.ErrNoDevice, "no device attached"), nil
	}

	queued, err := h.stageSnapshot(ctx, want)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return ipc.NewErrorMessage(id, ipc.ErrNoDevice, err.Error()), nil
		}
		return ipc.NewErrorMessage(id, ipc.ErrInternalError, err.Error()), nil
	}

	return ipc.NewResponse(ipc.MsgSnapshotRestoreResp, id, &ipc.SnapshotRestoreResponse{
		Name:    req.Name,
		Queued:  queued,
		Applied: instant,
	})
}
