// Package watch provides the --watch rebuild-loop fsnotify wires into the
// benchmark harness: block until a workload plugin file is rewritten, so
// a developer can leave region-bench running across repeated `go build
// -buildmode=plugin` cycles.
package watch

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// UntilChanged blocks until path is written or renamed (covering both an
// in-place rebuild and a build-then-move), then returns. It watches the
// containing directory rather than the file itself, since plugin rebuilds
// typically replace the file rather than truncate-and-rewrite it, which
// would otherwise orphan a watch on the old inode.
func UntilChanged(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watch: watcher closed")
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watch: watcher closed")
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}
