package socket

import "time"

// scheduleReconnect decides whether another attempt is permitted and, if
// so, arms the reconnect timer. Reconnection must be enabled and not
// already pending; a dial failure routes here too, so the gate lives
// here rather than at each call site. Exhausting the ceiling transitions
// to Errored and fires the terminal observer exactly once; only a manual
// Connect re-arms it.
func (m *Manager) scheduleReconnect() {
	if !m.cfg.Reconnect {
		return
	}

	m.mu.Lock()
	if m.closed || m.reconnecting {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.st = StateErrored
		fire := !m.failedFired
		m.failedFired = true
		m.mu.Unlock()

		m.logger.Warn("reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts)
		if fire && m.cfg.OnReconnectFailed != nil {
			m.invokeObserver("reconnect-failed", m.cfg.OnReconnectFailed)
		}
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.reconnectDelay(attempt)
	m.reconnecting = true
	m.st = StateReconnecting
	m.reconnectTimer = time.AfterFunc(delay, m.reconnectNow)
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	if m.cfg.OnReconnect != nil {
		m.invokeObserver("reconnect", func() { m.cfg.OnReconnect(attempt, delay) })
	}
}

// reconnectNow fires when the reconnect timer elapses.
func (m *Manager) reconnectNow() {
	m.mu.Lock()
	m.reconnecting = false
	m.reconnectTimer = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.st == StateReconnecting {
		m.st = StateDisconnected
	}
	m.mu.Unlock()

	// A failed dial reports the error and schedules the next attempt.
	m.dial()
}

// reconnectDelay computes the wait before the given attempt: fixed at
// ReconnectInterval by default, grown by ReconnectMultiplier per attempt
// and capped at ReconnectMaxInterval when configured.
func (m *Manager) reconnectDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectInterval
	if m.cfg.ReconnectMultiplier <= 1 {
		return delay
	}

	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * m.cfg.ReconnectMultiplier)
		if m.cfg.ReconnectMaxInterval > 0 && delay >= m.cfg.ReconnectMaxInterval {
			return m.cfg.ReconnectMaxInterval
		}
	}
	return delay
}
