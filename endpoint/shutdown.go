package endpoint

import "time"

// drainPoll is how often GracefulShutdown rechecks the live set while
// waiting for peers to confirm their closes.
const drainPoll = 10 * time.Millisecond

// Destroy force-closes every connection, clears the connection, key and
// rate-limit state, invokes the disposer, emits the destroy event and
// detaches all observers. Bounded time, not graceful. Idempotent.
func (ctl *Controller) Destroy() {
	ctl.mu.Lock()
	if ctl.destroyed {
		ctl.mu.Unlock()
		return
	}
	ctl.destroyed = true
	conns := make([]*Conn, 0, len(ctl.conns))
	for _, c := range ctl.conns {
		conns = append(conns, c)
	}
	ctl.conns = make(map[string]*Conn)
	disposer := ctl.disposer
	ctl.mu.Unlock()

	for _, c := range conns {
		if t := c.beginClose(connClosed); t != nil {
			_ = t.Close()
		}
	}

	ctl.keys.Stop()
	if ctl.limiter != nil {
		ctl.limiter.reset()
	}
	if disposer != nil {
		disposer(ctl)
	}
	ctl.observers.emitDestroy()
	ctl.observers.clear()
}

// GracefulShutdown asks every open connection to close with the
// going-away code and waits for the peers to confirm. Connections still
// live at the deadline are forced closed. Returns once every connection
// is accounted for, never later than timeout plus polling overhead.
func (ctl *Controller) GracefulShutdown(timeout time.Duration) {
	conns := ctl.snapshotConns()
	if len(conns) == 0 {
		return
	}

	for _, c := range conns {
		if t := c.beginClose(connClosing); t != nil {
			_ = t.WriteClose(CloseGoingAway, "shutting down")
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			// Peers that never acknowledged: force-terminate.
			for _, c := range ctl.snapshotConns() {
				if t := c.beginClose(connClosed); t != nil {
					_ = t.Close()
				}
				ctl.remove(c, CloseGoingAway, "shutdown timeout")
			}
			return
		case <-ticker.C:
			if ctl.Len() == 0 {
				return
			}
		}
	}
}
