package app

import (
	"time"

	"github.com/charmbracelet/log"
)

// shaderSettle is how long the shader files must stay quiet before a reload.
const shaderSettle = 100 * time.Millisecond

type ShaderRefresher interface {
	Refresh() error
}

// shaderReload turns watcher events into pipeline rebuilds. A rebuild that
// fails is fatal, so the renderer is only invalidated once the new shaders
// have loaded.
type shaderReload struct {
	shaders  ShaderRefresher
	renderer Renderer
	logger   *log.Logger
	settle   time.Duration
}

// handle waits until changes has been quiet for the settle period, then
// refreshes the shaders. It reports whether the renderer was invalidated.
func (r *shaderReload) handle(name string, changes <-chan string) bool {
	for quiet := false; !quiet; {
		select {
		case next, ok := <-changes:
			if !ok {
				quiet = true
				continue
			}
			name = next
		case <-time.After(r.settle):
			quiet = true
		}
	}

	if err := r.shaders.Refresh(); err != nil {
		r.logger.Warn("shader reload skipped, keeping the current pipeline", "path", name, "err", err)
		return false
	}

	r.logger.Info("shader changed, rebuilding pipeline", "path", name)
	r.renderer.Invalidate()
	return true
}
