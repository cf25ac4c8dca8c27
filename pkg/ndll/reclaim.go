package ndll

import "go.uber.org/zap"

// enqueue runs on the cleanup goroutine, so it only records the module.
func (c *Context) enqueue(m *module) {
	c.leakMu.Lock()
	defer c.leakMu.Unlock()
	c.leaked = append(c.leaked, m)
}

// Reclaim runs the finalizers of collected abstracts, then unloads the
// libraries of Functions that were garbage collected without Close and
// returns how many it unloaded. Open and every outermost call run it first.
func (c *Context) Reclaim() int {
	c.bridge.ReclaimAbstracts()

	c.leakMu.Lock()
	queue := c.leaked
	c.leaked = nil
	c.leakMu.Unlock()

	n := 0
	for _, m := range queue {
		if m.closed {
			continue
		}
		if err := c.unload(m); err != nil {
			c.logger.Warn("Failed to unload leaked library",
				zap.String("path", m.path),
				zap.Error(err),
			)
		}
		n++
	}
	if n > 0 {
		c.logger.Info("Reclaimed leaked functions", zap.Int("count", n))
	}
	return n
}
