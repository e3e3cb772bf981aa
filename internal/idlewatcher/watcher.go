// Package idlewatcher watches the X server's SYNC IDLETIME counter and
// reports transitions across a caller-supplied timeout, the way
// original_source/src/idle.c drives XSync alarms.
package idlewatcher

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	xsync "github.com/jezek/xgb/sync"
)

// State tracks which half of the reset/timeout cycle the watcher is in.
type State int

const (
	StateReset State = iota
	StateTimeout
)

// Result classifies why Wait returned.
type Result int

const (
	// ResultError means Wait failed; the accompanying error explains why.
	ResultError Result = iota
	// ResultTimeout means the idle counter crossed the requested threshold.
	ResultTimeout
	// ResultUnidle means activity was observed while waiting out a timeout.
	ResultUnidle
	// ResultInterrupted means the caller's context was cancelled before
	// either of the above occurred. The C original has no equivalent —
	// it escapes pselect via a signal and a non-local jump instead.
	ResultInterrupted
)

type xgbEvent struct {
	ev  xgb.Event
	err xgb.Error
}

// Watcher owns one X connection, its IDLETIME counter and the pair of
// alarms (zero, timeout) used to detect activity and idleness.
type Watcher struct {
	conn *xgb.Conn

	counter      xsync.Counter
	zeroAlarm    xsync.Alarm
	timeoutAlarm xsync.Alarm

	baseTimer int64
	state     State

	events chan xgbEvent
	done   chan struct{}
	wg     stdsync.WaitGroup

	closeOnce stdsync.Once
}

// New opens a connection to the display named by $DISPLAY, verifies the
// SYNC extension and the IDLETIME counter are present, and creates the
// watcher's pair of alarms in the disabled state.
func New() (*Watcher, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDisplay, err)
	}

	if err := xsync.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoSync, err)
	}

	counters, err := xsync.ListSystemCounters(conn).Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoIdleCounter, err)
	}

	counter, ok := findIdletimeCounter(counters.Counters)
	if !ok {
		conn.Close()
		return nil, ErrNoIdleCounter
	}

	valueReply, err := xsync.QueryCounter(conn, counter).Reply()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadCounter, err)
	}
	base := syncValueToI64(valueReply.Value)
	if base < 0 {
		conn.Close()
		return nil, ErrBadCounter
	}

	w := &Watcher{
		conn:      conn,
		counter:   counter,
		baseTimer: base,
		state:     StateReset,
		events:    make(chan xgbEvent, 8),
		done:      make(chan struct{}),
	}

	zeroAlarm, err := w.createAlarm(xsync.TestTypeNegativeComparison)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
	}
	w.zeroAlarm = zeroAlarm

	timeoutAlarm, err := w.createAlarm(xsync.TestTypePositiveComparison)
	if err != nil {
		xsync.DestroyAlarm(conn, zeroAlarm)
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
	}
	w.timeoutAlarm = timeoutAlarm

	w.wg.Add(1)
	go w.readLoop()

	return w, nil
}

func findIdletimeCounter(counters []xsync.Systemcounter) (xsync.Counter, bool) {
	for _, c := range counters {
		if string(c.Name) == "IDLETIME" {
			return c.Counter, true
		}
	}
	return 0, false
}

// createAlarm registers a new alarm on the IDLETIME counter with the
// given comparison, trigger value 0 and delta 0, events disabled. The
// trigger value is filled in later by armZeroAlarm/armTimeoutAlarmAbsolute.
func (w *Watcher) createAlarm(testType uint8) (xsync.Alarm, error) {
	id, err := xsync.NewAlarmId(w.conn)
	if err != nil {
		return 0, err
	}

	trigger := i64ToSyncValue(0)
	delta := i64ToSyncValue(0)

	mask := uint32(xsync.CaCounter | xsync.CaValueType | xsync.CaValue | xsync.CaTestType | xsync.CaDelta | xsync.CaEvents)
	values := []uint32{
		uint32(w.counter),
		uint32(xsync.ValuetypeAbsolute),
		uint32(trigger.Hi), uint32(trigger.Lo),
		uint32(testType),
		uint32(delta.Hi), uint32(delta.Lo),
		0,
	}

	if err := xsync.CreateAlarmChecked(w.conn, id, mask, values).Check(); err != nil {
		return 0, err
	}
	return id, nil
}

// armZeroAlarm re-enables delivery of the zero alarm without touching
// its trigger (fixed at 0, negative-comparison, since creation).
func (w *Watcher) armZeroAlarm() error {
	mask := uint32(xsync.CaEvents)
	return xsync.ChangeAlarmChecked(w.conn, w.zeroAlarm, mask, []uint32{1}).Check()
}

// armTimeoutAlarmAbsolute sets the timeout alarm's trigger to an
// absolute IDLETIME value and re-enables delivery.
func (w *Watcher) armTimeoutAlarmAbsolute(value int64) error {
	v := i64ToSyncValue(value)
	mask := uint32(xsync.CaValue | xsync.CaEvents)
	return xsync.ChangeAlarmChecked(w.conn, w.timeoutAlarm, mask, []uint32{uint32(v.Hi), uint32(v.Lo), 1}).Check()
}

// disableAlarms turns off event delivery on both alarms. Errors are
// swallowed: a failed disable only wastes a spurious wakeup next loop,
// never corrupts state.
func (w *Watcher) disableAlarms() {
	mask := uint32(xsync.CaEvents)
	xsync.ChangeAlarmChecked(w.conn, w.zeroAlarm, mask, []uint32{0}).Check()
	xsync.ChangeAlarmChecked(w.conn, w.timeoutAlarm, mask, []uint32{0}).Check()
}

func (w *Watcher) readLoop() {
	defer w.wg.Done()
	for {
		ev, err := w.conn.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		select {
		case w.events <- xgbEvent{ev, asXgbError(err)}:
		case <-w.done:
			return
		}
	}
}

func asXgbError(err error) xgb.Error {
	if err == nil {
		return nil
	}
	if xerr, ok := err.(xgb.Error); ok {
		return xerr
	}
	return nil
}

func alarmFromEvent(ev xgb.Event) (xsync.Alarm, bool) {
	notify, ok := ev.(xsync.AlarmNotifyEvent)
	if !ok {
		return 0, false
	}
	return notify.Alarm, true
}

// Wait blocks until the idle counter crosses the threshold timeoutMs,
// given in whole seconds and armed as timeoutMs*1000 milliseconds, or
// until ctx is cancelled. The threshold is offset by the baseline
// reading taken at New or Reset while that baseline exceeds one second,
// and is absolute otherwise. In StateTimeout, activity also ends the
// wait, and a timeoutMs of 0 arms no threshold at all.
func (w *Watcher) Wait(ctx context.Context, timeoutMs uint32) (Result, error) {
	if w.state == StateReset {
		return w.waitReset(ctx, timeoutMs)
	}
	return w.waitTimeout(ctx, timeoutMs)
}

func (w *Watcher) waitReset(ctx context.Context, timeoutMs uint32) (Result, error) {
reset:
	for {
		if w.baseTimer > 1000 {
			if err := w.armZeroAlarm(); err != nil {
				return ResultError, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
			}
			if err := w.armTimeoutAlarmAbsolute(w.baseTimer + int64(timeoutMs)*1000); err != nil {
				return ResultError, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
			}
		} else {
			if err := w.armTimeoutAlarmAbsolute(int64(timeoutMs) * 1000); err != nil {
				return ResultError, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
			}
		}

		for {
			select {
			case <-ctx.Done():
				w.disableAlarms()
				return ResultInterrupted, ctx.Err()
			case ev := <-w.events:
				if ev.err != nil {
					w.disableAlarms()
					return ResultError, ev.err
				}
				alarm, ok := alarmFromEvent(ev.ev)
				if !ok {
					continue
				}
				switch alarm {
				case w.zeroAlarm:
					w.baseTimer = 0
					w.disableAlarms()
					continue reset
				case w.timeoutAlarm:
					w.disableAlarms()
					w.state = StateTimeout
					return ResultTimeout, nil
				}
			}
		}
	}
}

func (w *Watcher) waitTimeout(ctx context.Context, timeoutMs uint32) (Result, error) {
	if err := w.armZeroAlarm(); err != nil {
		return ResultError, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
	}
	if timeoutMs > 0 {
		var err error
		if w.baseTimer > 1000 {
			err = w.armTimeoutAlarmAbsolute(w.baseTimer + int64(timeoutMs)*1000)
		} else {
			err = w.armTimeoutAlarmAbsolute(int64(timeoutMs) * 1000)
		}
		if err != nil {
			return ResultError, fmt.Errorf("%w: %v", ErrAlarmFailure, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.disableAlarms()
			return ResultInterrupted, ctx.Err()
		case ev := <-w.events:
			if ev.err != nil {
				w.disableAlarms()
				return ResultError, ev.err
			}
			alarm, ok := alarmFromEvent(ev.ev)
			if !ok {
				continue
			}
			switch alarm {
			case w.zeroAlarm:
				w.baseTimer = 0
				w.disableAlarms()
				w.state = StateReset
				return ResultUnidle, nil
			case w.timeoutAlarm:
				w.disableAlarms()
				return ResultTimeout, nil
			}
		}
	}
}

// Reset re-reads the IDLETIME counter and returns the watcher to
// StateReset without tearing down the connection or alarms. Used after
// a restart signal forces the driver to recompute its schedule.
func (w *Watcher) Reset() error {
	w.disableAlarms()
	valueReply, err := xsync.QueryCounter(w.conn, w.counter).Reply()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCounter, err)
	}
	w.baseTimer = syncValueToI64(valueReply.Value)
	w.state = StateReset
	return nil
}

// Close disables both alarms, destroys them, flushes and closes the
// connection, and stops the event reader goroutine. Safe to call more
// than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.disableAlarms()
		xsync.DestroyAlarm(w.conn, w.zeroAlarm)
		xsync.DestroyAlarm(w.conn, w.timeoutAlarm)
		xproto.GetInputFocus(w.conn).Reply()
		close(w.done)
		w.conn.Close()
		w.wg.Wait()
	})
}
