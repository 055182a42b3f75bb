package authlog

import "time"

// RefreshStats aggregates the refresh history retained in the buffer.
type RefreshStats struct {
	Total     int
	Successes int
	Failures  int

	// AvgDuration averages the duration_ms detail over refresh outcomes
	// that carried one.
	AvgDuration time.Duration

	// LastFailures holds up to the 5 most recent refresh failures, newest
	// first.
	LastFailures []Entry
}

// RefreshStats computes aggregate refresh statistics from the buffer.
func (l *Logger) RefreshStats() RefreshStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats RefreshStats
	var totalDur time.Duration
	var timed int

	for _, e := range l.entries {
		switch e.Type {
		case EventRefreshSuccess:
			stats.Successes++
		case EventRefreshFailure:
			stats.Failures++
		default:
			continue
		}
		stats.Total++

		if d, ok := durationDetail(e); ok {
			totalDur += d
			timed++
		}
	}

	if timed > 0 {
		stats.AvgDuration = totalDur / time.Duration(timed)
	}

	for i := len(l.entries) - 1; i >= 0 && len(stats.LastFailures) < 5; i-- {
		if l.entries[i].Type == EventRefreshFailure {
			stats.LastFailures = append(stats.LastFailures, l.entries[i])
		}
	}

	return stats
}

func durationDetail(e Entry) (time.Duration, bool) {
	raw, ok := e.Details["duration_ms"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	default:
		return 0, false
	}
}

// Health is a point-in-time view of recent auth trouble.
type Health struct {
	IsHealthy        bool
	RecentErrors     int
	BreakerActivated bool
}

// Health reports whether the last five minutes look clean: fewer than five
// error-severity entries and no circuit-breaker activation.
func (l *Logger) Health() Health {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cutoff := l.now().Add(-healthWindow)
	h := Health{}

	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		if severity(e.Type) == SeverityError {
			h.RecentErrors++
		}
		if e.Type == EventBreakerActivated {
			h.BreakerActivated = true
		}
	}

	h.IsHealthy = h.RecentErrors < healthErrorLimit && !h.BreakerActivated
	return h
}
