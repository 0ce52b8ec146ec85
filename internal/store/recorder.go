package store

import (
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/installer"
)

// Recorder writes installer events into the history table. Write failures
// are logged and never reach the operation that produced the event.
type Recorder struct {
	store *Store
	log   zerolog.Logger
}

// NewRecorder returns an installer.Recorder backed by s.
func NewRecorder(s *Store, logger zerolog.Logger) *Recorder {
	return &Recorder{store: s, log: logger}
}

// Record implements installer.Recorder.
func (r *Recorder) Record(ev installer.Event) {
	entry := &HistoryEntry{
		Action:      ev.Action,
		Formula:     ev.Name,
		Version:     ev.Version,
		FromVersion: ev.FromVersion,
		Backend:     string(ev.Backend),
		Outcome:     ev.Outcome.String(),
		Elapsed:     ev.Elapsed,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if _, err := r.store.RecordEvent(entry); err != nil {
		r.log.Warn().Err(err).Str("formula", ev.Name).Str("action", ev.Action).Msg("Failed to record history")
	}
}
