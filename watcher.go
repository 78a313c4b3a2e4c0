package shaderwatch

import (
	"context"
	"os"
	"time"
)

// watch is the file-watch loop. It polls the stat of every loaded shader
// path and reports paths whose size or modification time moved. Content
// fingerprinting in NotifyChange filters out stat changes that did not
// actually alter the source, so spurious wakeups are cheap.
//
// Polling keeps the subsystem free of OS watch mechanics; an engine with
// a native watcher can skip Start's loop entirely and call NotifyChange
// itself.
func (m *Manager) watch(ctx context.Context) {
	defer m.watchWG.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, path := range m.changedPaths() {
				m.NotifyChange(path)
			}
		}
	}
}

// changedPaths stats every watched file and returns those whose size or
// mtime differ from the last observation. Stat failures are logged and
// skipped: a file mid-save can briefly be missing, and the next tick
// will see it again.
func (m *Manager) changedPaths() []string {
	type probe struct {
		path  string
		mtime time.Time
		size  int64
	}

	m.mu.RLock()
	probes := make([]probe, 0, len(m.entries))
	for _, e := range m.entries {
		probes = append(probes, probe{path: e.path, mtime: e.mtime, size: e.size})
	}
	m.mu.RUnlock()

	var changed []string
	for _, p := range probes {
		info, err := os.Stat(p.path)
		if err != nil {
			Logger().Debug("stat failed for watched shader", "path", p.path, "error", err)
			continue
		}
		if !info.ModTime().Equal(p.mtime) || info.Size() != p.size {
			changed = append(changed, p.path)
		}
	}
	return changed
}
