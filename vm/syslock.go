package vm

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// sysLock is a thread's private lock: a mutex plus a single wake-up
// permit. Notifications posted before the owner parks are not lost, and
// interrupts wake a parked owner.
type sysLock struct {
	mu          deadlock.Mutex
	wake        chan struct{}
	interrupted bool // guarded by mu
}

func newSysLock() *sysLock {
	return &sysLock{wake: make(chan struct{}, 1)}
}

func (l *sysLock) acquire() { l.mu.Lock() }
func (l *sysLock) release() { l.mu.Unlock() }

// Lock and Unlock let another thread take l through Thread.acquire, which
// goes idle while it blocks.
func (l *sysLock) Lock()   { l.mu.Lock() }
func (l *sysLock) Unlock() { l.mu.Unlock() }

// notify posts the wake-up permit. Callers hold the lock.
func (l *sysLock) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// interrupt sets the interrupted flag and wakes the owner. Callers hold
// the lock.
func (l *sysLock) interrupt() {
	l.interrupted = true
	l.notify()
}

// getAndClearInterrupted reads and clears the interrupted flag. Callers
// hold the lock.
func (l *sysLock) getAndClearInterrupted() bool {
	was := l.interrupted
	l.interrupted = false
	return was
}

// wait parks the caller, who must hold the lock, until notified,
// interrupted or millis elapse. millis == 0 waits without a deadline and
// millis < 0 does not wait. When clearInterrupted is set a pending
// interrupt returns true immediately and is consumed.
func (l *sysLock) wait(millis int64, clearInterrupted bool) bool {
	if clearInterrupted && l.interrupted {
		l.interrupted = false
		return true
	}
	if millis < 0 {
		return false
	}

	// every notify happens under mu, so a permit left over from before
	// the caller took the lock is stale
	select {
	case <-l.wake:
	default:
	}

	l.mu.Unlock()
	if millis == 0 {
		<-l.wake
	} else {
		timer := time.NewTimer(time.Duration(millis) * time.Millisecond)
		select {
		case <-l.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
	l.mu.Lock()

	if clearInterrupted && l.interrupted {
		l.interrupted = false
		return true
	}
	return false
}
