package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"forgecore/internal/artifact"
	"forgecore/internal/logging"
	"forgecore/internal/types"
)

// pendingWriteQueue is the durable fallback persistAttempt reaches for when
// an artifact store write fails: rather than losing the attempt's PLAN/CODE
// output, each failed Store call is serialized to its own file under dir and
// replayed against the real store the next time the pipeline starts.
// Grounded on the teacher's internal/world/cache.go FileCache.Save
// marshal-then-os.WriteFile shape, one file per queued write instead of one
// shared file so a crash mid-drain only loses the file being written, never
// the whole queue.
type pendingWriteQueue struct {
	dir string
}

func newPendingWriteQueue(dataDir string) *pendingWriteQueue {
	return &pendingWriteQueue{dir: filepath.Join(dataDir, "pending_writes")}
}

// Enqueue durably records a Store call that failed, so it is not lost.
func (q *pendingWriteQueue) Enqueue(a *types.Artifact, autoEmbed, replace bool) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("pending write queue: create dir: %w", err)
	}

	entry := pendingWriteEntry{Artifact: a, AutoEmbed: autoEmbed, Replace: replace}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("pending write queue: marshal: %w", err)
	}

	name := a.ID
	if name == "" {
		name = fmt.Sprintf("unnamed-%d", len(data))
	}
	path := filepath.Join(q.dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pending write queue: write %s: %w", path, err)
	}
	return nil
}

type pendingWriteEntry struct {
	Artifact  *types.Artifact `json:"artifact"`
	AutoEmbed bool            `json:"auto_embed"`
	Replace   bool            `json:"replace"`
}

// Drain replays every queued write against store, in sorted filename
// (artifact id) order, deleting each file once its write succeeds. A write that fails
// again is left queued for the next Drain rather than re-erroring the
// caller — this is startup bookkeeping, not request handling.
func (q *pendingWriteQueue) Drain(ctx context.Context, store *artifact.Store) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.EngineWarn("pending write queue: read dir: %v", err)
		}
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	drained := 0
	for _, name := range names {
		path := filepath.Join(q.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logging.EngineWarn("pending write queue: read %s: %v", path, err)
			continue
		}
		var entry pendingWriteEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			logging.EngineWarn("pending write queue: unmarshal %s: %v", path, err)
			continue
		}
		if err := store.Store(ctx, entry.Artifact, entry.AutoEmbed, entry.Replace); err != nil {
			logging.EngineWarn("pending write queue: replay %s still failing: %v", path, err)
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.EngineWarn("pending write queue: remove drained %s: %v", path, err)
		}
		drained++
	}
	if drained > 0 {
		logging.Engine("pending write queue: drained %d queued artifact write(s)", drained)
	}
}
