package socket

import (
	"time"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// startHeartbeatLocked starts the keep-alive loop. Idempotent: a running
// loop is never duplicated. Caller holds m.mu.
func (m *Manager) startHeartbeatLocked() {
	if m.cfg.PingInterval <= 0 || m.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	go m.heartbeatLoop(stop)
}

// stopHeartbeatLocked stops the keep-alive loop. Called on every exit
// from Connected. Caller holds m.mu.
func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// heartbeatLoop sends a ping envelope every PingInterval while the
// connection is open, and optionally drops connections that have gone
// silent past StaleTimeout.
func (m *Manager) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := wire.New(wire.TypePing, nil)
			if err == nil {
				if err := m.transmit(env); err != nil {
					m.logger.Debug("keep-alive send failed", "error", err)
				}
			}

			if m.cfg.StaleTimeout > 0 {
				m.checkStale()
			}
		}
	}
}

// checkStale closes a connection that has produced no inbound traffic
// within StaleTimeout. The read pump surfaces the resulting close and
// drives the normal reconnect decision.
func (m *Manager) checkStale() {
	m.mu.Lock()
	last := m.lastActivity
	conn := m.conn
	m.mu.Unlock()

	if conn == nil || time.Since(last) <= m.cfg.StaleTimeout {
		return
	}

	m.reportError(ErrStaleConnection)
	conn.Close()
}
