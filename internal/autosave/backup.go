package autosave

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/tidwall/gjson"
)

// backupDoc is the local mirror of a session's unacknowledged edits.
type backupDoc struct {
	Changes []model.PendingChange `json:"changes"`
	Attempt *model.AttemptPatch   `json:"attempt,omitempty"`
}

// persistBackupLocked mirrors the pending buffer to local storage. Caller holds e.mu.
func (e *Engine) persistBackupLocked() {
	if len(e.pending) == 0 && e.patch == nil {
		if err := e.opts.Local.Remove(e.backupKey); err != nil {
			e.log.Error().Err(err).Msg("Remove local backup failed")
		}
		return
	}

	doc := backupDoc{Changes: sortedChanges(e.pending), Attempt: e.patch}
	raw, err := json.Marshal(doc)
	if err != nil {
		e.log.Error().Err(err).Msg("Marshal local backup failed")
		return
	}
	if err := e.opts.Local.Set(e.backupKey, raw); err != nil {
		e.log.Error().Err(err).Msg("Write local backup failed")
	}
}

// LoadBackup returns the edits mirrored by a previous run of this session.
// A corrupted backup is logged, removed and treated as empty.
func (e *Engine) LoadBackup() []model.PendingChange {
	doc, ok := e.readBackup()
	if !ok {
		return nil
	}
	return e.ownChanges(doc.Changes)
}

// LocalTerminal reports a submit or kick recorded on this device that the remote store
// has not acknowledged. It looks at the offline queue and at the local backup. A
// terminal backup is moved to the offline queue so the device-wide replay delivers it
// without this session being reopened.
func (e *Engine) LocalTerminal() (model.AttemptStatus, bool) {
	if status, ok := e.opts.Queue.TerminalStatus(e.opts.ScheduleID, e.opts.ExamineeID); ok {
		return status, true
	}

	doc, ok := e.readBackup()
	if !ok || doc.Attempt == nil || doc.Attempt.Status == nil || !doc.Attempt.Status.Terminal() {
		return "", false
	}
	status := *doc.Attempt.Status

	patch := *doc.Attempt
	patch.ScheduleID = e.opts.ScheduleID
	patch.ExamineeID = e.opts.ExamineeID
	entry := model.OfflineQueueEntry{
		ScheduleID: e.opts.ScheduleID,
		ExamineeID: e.opts.ExamineeID,
		Changes:    e.ownChanges(doc.Changes),
		Attempt:    &patch,
		QueuedAt:   e.opts.Clock.Now(),
	}
	if err := e.opts.Queue.Enqueue(entry); err != nil {
		e.log.Error().Err(err).Msg("Queue terminal backup failed, keeping backup")
		return status, true
	}
	if err := e.opts.Local.Remove(e.backupKey); err != nil {
		e.log.Error().Err(err).Msg("Remove local backup failed")
	}
	return status, true
}

func (e *Engine) readBackup() (backupDoc, bool) {
	var doc backupDoc
	raw, ok, err := e.opts.Local.Get(e.backupKey)
	if err != nil {
		e.log.Error().Err(err).Msg("Read local backup failed")
		return doc, false
	}
	if !ok {
		return doc, false
	}

	if !gjson.ValidBytes(raw) || json.Unmarshal(raw, &doc) != nil {
		e.log.Warn().Int("bytes", len(raw)).Msg("Malformed local backup, treating as empty")
		_ = e.opts.Local.Remove(e.backupKey)
		return backupDoc{}, false
	}
	return doc, true
}

func (e *Engine) ownChanges(changes []model.PendingChange) []model.PendingChange {
	out := changes[:0]
	for _, c := range changes {
		if c.ScheduleID == e.opts.ScheduleID && c.ExamineeID == e.opts.ExamineeID {
			out = append(out, c)
		}
	}
	return out
}

func sortedChanges(pending map[uuid.UUID]model.PendingChange) []model.PendingChange {
	out := make([]model.PendingChange, 0, len(pending))
	for _, c := range pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LocalVersion < out[j].LocalVersion
	})
	return out
}
