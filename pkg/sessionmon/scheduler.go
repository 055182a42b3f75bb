package sessionmon

import (
	"sync"
	"time"
)

// Scheduler abstracts timer creation so tests can drive the monitor on
// virtual time. Both methods return a cancel func that is safe to call more
// than once.
type Scheduler interface {
	// After runs fn once after d, unless cancelled first.
	After(d time.Duration, fn func()) (cancel func())
	// Every runs fn repeatedly at interval d until cancelled.
	Every(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler is the production Scheduler backed by the runtime's timers.
type TimerScheduler struct{}

func (TimerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (TimerScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// ActivitySource delivers user-activity timestamps (pointer, key, scroll,
// touch in the original UI; anything the host app considers activity).
// Subscribe returns an unsubscribe func.
type ActivitySource interface {
	Subscribe(fn func(at time.Time)) (unsubscribe func())
}

// Navigator is the monitor's window on navigation: where the user is now,
// and the ability to send them somewhere else.
type Navigator interface {
	CurrentPath() string
	Redirect(url string)
}

type nopNavigator struct{}

func (nopNavigator) CurrentPath() string { return "/" }
func (nopNavigator) Redirect(string)     {}
