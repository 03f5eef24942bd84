package monitoring

import "time"

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// CallOutcome labels a call result for the calls_total metric.
func CallOutcome(err error, kind func(error) string) string {
	if err == nil {
		return "ok"
	}
	if kind == nil {
		return "error"
	}
	return kind(err)
}
