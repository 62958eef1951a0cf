package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"forgecore/internal/logging"
	"forgecore/internal/types"
)

// sidecarView is the JSON-on-disk companion file for an artifact (spec
// §6.1): every Artifact field except Embedding, which is assumed resident
// in the vector store when the store is remote.
type sidecarView struct {
	ID           string          `json:"id"`
	Kind         types.Kind      `json:"kind"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Content      []byte          `json:"content"`
	Tags         []string        `json:"tags"`
	Metadata     types.Metadata  `json:"metadata"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
	UsageCount   int64           `json:"usage_count"`
	SuccessCount int64           `json:"success_count"`
	FailureCount int64           `json:"failure_count"`
}

// WriteSidecar writes the JSON sidecar for an artifact under root/artifacts/
// following spec §6.6's persisted-state layout.
func WriteSidecar(root string, a *types.Artifact) error {
	dir := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir sidecar dir: %w", err)
	}
	view := sidecarView{
		ID: a.ID, Kind: a.Kind, Name: a.Name, Description: a.Description,
		Content: a.Content, Tags: a.Tags, Metadata: a.Metadata,
		CreatedAt: a.CreatedAt.UnixMilli(), UpdatedAt: a.UpdatedAt.UnixMilli(),
		UsageCount: a.UsageCount, SuccessCount: a.SuccessCount, FailureCount: a.FailureCount,
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	path := filepath.Join(dir, a.ID+".json")
	return os.WriteFile(path, data, 0o644)
}

// SidecarWatcher watches root/artifacts/ for external edits and invalidates
// a caller-supplied in-memory cache entry, grounded on the teacher's
// internal/core/mangle_watcher.go debounce/watch-setup pattern.
type SidecarWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(artifactID string)
	done     chan struct{}
}

// NewSidecarWatcher starts watching root/artifacts/ for writes and removes;
// onChange is invoked with the artifact id derived from the changed file's
// name.
func NewSidecarWatcher(root string, onChange func(artifactID string)) (*SidecarWatcher, error) {
	dir := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir sidecar dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch sidecar dir: %w", err)
	}

	sw := &SidecarWatcher{watcher: w, onChange: onChange, done: make(chan struct{})}
	go sw.loop()
	return sw, nil
}

func (sw *SidecarWatcher) loop() {
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Create) == 0 {
				continue
			}
			id := filepath.Base(ev.Name)
			id = id[:len(id)-len(filepath.Ext(id))]
			logging.ArtifactDebug("sidecar watcher: %s changed (%s), invalidating %s", ev.Name, ev.Op, id)
			if sw.onChange != nil {
				sw.onChange(id)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			logging.ArtifactError("sidecar watcher error: %v", err)
		case <-sw.done:
			return
		}
	}
}

// Close stops the watcher.
func (sw *SidecarWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}
