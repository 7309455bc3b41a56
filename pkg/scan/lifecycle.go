// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/backoff"
)

// Lifecycle states for a scan, per the on-disk sentinel files that
// mark each transition (Recording -> ScanCompleted on scan_completed,
// -> Processed once every pair has a stat file, -> Transferred once
// every file has a verified remote copy, -> Deletable once the
// dashboard has acknowledged registration, -> Deleted once local
// storage has been reclaimed). Errored is reached only for conditions
// a worker cannot retry its way out of.
const (
	StateRecording      = "recording"
	StateScanCompleted  = "scan_completed"
	StateProcessed      = "processed"
	StateTransferred    = "transferred"
	StateDeletable      = "deletable"
	StateDeleted        = "deleted"
	StateErrored        = "errored"
)

// Lifecycle events drive the transitions above. Workers call SendEvent
// with the event that corresponds to the sentinel or condition they
// just observed; invalid transitions are rejected by the underlying
// looplab/fsm and surfaced as errors rather than panics.
const (
	EventScanCompleted   = "scan_completed"
	EventProcessed       = "processed"
	EventTransferred     = "transferred"
	EventRegistered      = "registered"
	EventDeleted         = "deleted"
	EventFail            = "fail"
)

// Lifecycle wraps a looplab/fsm.FSM with the mutex, backoff manager and
// enter-state callback registry pattern used throughout this codebase
// for anything that models a state machine. Unlike the reconcile-loop
// FSMs it is modeled after, a scan has no create/remove lifecycle of
// its own: it begins to exist the moment ScanManager discovers its
// directory and stops existing the moment ScanManager deletes it, so
// only the operational states above are represented.
type Lifecycle struct {
	mu             sync.RWMutex
	fsm            *fsm.FSM
	callbacks      map[string]fsm.Callback
	backoffManager *backoff.BackoffManager
	logger         *zap.SugaredLogger
	id             string
}

// NewLifecycle builds a Lifecycle starting in StateRecording, since a
// scan is only ever discovered while its recorder is still writing to
// it (a scan directory containing scan_completed at discovery time
// still enters StateRecording and is immediately advanced by the first
// reconcile pass).
func NewLifecycle(id string, logger *zap.SugaredLogger) *Lifecycle {
	l := &Lifecycle{
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
		id:        id,
	}

	backoffCfg := backoff.DefaultConfig(id)
	l.backoffManager = backoff.NewBackoffManager(backoffCfg, logger)

	l.fsm = fsm.NewFSM(
		StateRecording,
		fsm.Events{
			{Name: EventScanCompleted, Src: []string{StateRecording}, Dst: StateScanCompleted},
			{Name: EventProcessed, Src: []string{StateScanCompleted}, Dst: StateProcessed},
			{Name: EventTransferred, Src: []string{StateProcessed}, Dst: StateTransferred},
			{Name: EventRegistered, Src: []string{StateTransferred}, Dst: StateDeletable},
			{Name: EventDeleted, Src: []string{StateDeletable}, Dst: StateDeleted},
			{Name: EventFail, Src: []string{
				StateRecording, StateScanCompleted, StateProcessed, StateTransferred, StateDeletable,
			}, Dst: StateErrored},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				if cb, ok := l.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	l.AddCallback("enter_"+StateErrored, func(ctx context.Context, e *fsm.Event) {
		l.logger.Errorw("scan entered errored state", "scan", l.id, "from", e.Src)
	})

	return l
}

// AddCallback registers an enter_<state> callback, mirroring the
// registration pattern used by every other FSM wrapper in this
// codebase.
func (l *Lifecycle) AddCallback(eventName string, callback fsm.Callback) {
	l.callbacks[eventName] = callback
}

// Current returns the scan's current lifecycle state.
func (l *Lifecycle) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fsm.Current()
}

// SendEvent drives a transition, rejecting the call outright if ctx is
// already cancelled so a shutting-down worker never leaves the FSM
// mid-transition.
func (l *Lifecycle) SendEvent(ctx context.Context, event string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fsm.Event(ctx, event, args...); err != nil {
		return fmt.Errorf("scan %s: event %s from %s: %w", l.id, event, l.fsm.Current(), err)
	}
	return nil
}

// SetError records a transient failure against the scan's backoff
// manager, returning true once the scan has exhausted its retries and
// should transition to StateErrored.
func (l *Lifecycle) SetError(err error) bool {
	return l.backoffManager.SetError(err)
}

// Attempts returns the number of consecutive failures recorded so far
// for this scan's current unit of work.
func (l *Lifecycle) Attempts() uint64 {
	return l.backoffManager.Attempts()
}

// ClearError resets the backoff manager after a successful pass.
func (l *Lifecycle) ClearError() {
	l.backoffManager.Reset()
}

// LastError returns the most recently recorded error, if any.
func (l *Lifecycle) LastError() error {
	return l.backoffManager.GetLastError()
}
