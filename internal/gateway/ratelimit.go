package gateway

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// windowLimiterMaxKeys bounds the window map; expired windows are
// pruned once it is exceeded.
const windowLimiterMaxKeys = 10000

// WindowLimiter enforces a fixed-window quota per (caller, provider)
// pair. Fixed windows rather than sliding ones keep the behavior
// auditable; the burst at window boundaries is an accepted trade-off.
type WindowLimiter struct {
	mu       sync.Mutex
	windows  map[string]*callWindow
	window   time.Duration
	maxCalls int
	now      func() time.Time
	logger   *logrus.Logger
}

type callWindow struct {
	start time.Time
	count int
}

// NewWindowLimiter creates a limiter allowing maxCalls per window for
// each (caller, provider) pair.
func NewWindowLimiter(window time.Duration, maxCalls int, logger *logrus.Logger) *WindowLimiter {
	return &WindowLimiter{
		windows:  make(map[string]*callWindow),
		window:   window,
		maxCalls: maxCalls,
		now:      time.Now,
		logger:   logger,
	}
}

// Admit reports whether a call for the pair may proceed. Admitted
// attempts advance the counter regardless of the eventual provider
// outcome; rejections do not, and return how long until the window
// resets.
func (l *WindowLimiter) Admit(callerID, providerID string) (bool, time.Duration) {
	key := callerID + "|" + providerID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		if len(l.windows) >= windowLimiterMaxKeys {
			l.prune(now)
		}
		w = &callWindow{start: now}
		l.windows[key] = w
	}

	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 0
	}

	if w.count >= l.maxCalls {
		retryAfter := l.window - now.Sub(w.start)
		l.logger.WithFields(logrus.Fields{
			"caller_id":   callerID,
			"provider":    providerID,
			"retry_after": retryAfter,
		}).Warn("Rate limit exceeded")
		return false, retryAfter
	}

	w.count++
	return true, 0
}

// Reset clears the window for one pair.
func (l *WindowLimiter) Reset(callerID, providerID string) {
	l.mu.Lock()
	delete(l.windows, callerID+"|"+providerID)
	l.mu.Unlock()
}

// prune drops windows that elapsed. Caller must hold the lock.
func (l *WindowLimiter) prune(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
