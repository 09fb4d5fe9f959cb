// Package store keeps the per-topic snapshot of item ids seen on the last run.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-watch-listings/models"
)

const defaultCacheSize = 128

// cachedSnapshot remembers which version of the file the ids were read from.
type cachedSnapshot struct {
	ids     []string
	modTime time.Time
	size    int64
}

// ChangeNotifier is told whenever a topic's persisted snapshot changes.
type ChangeNotifier interface {
	OnStateChanged(topic string)
}

// ChangeNotifierFunc adapts a function to ChangeNotifier.
type ChangeNotifierFunc func(topic string)

// OnStateChanged calls f(topic).
func (f ChangeNotifierFunc) OnStateChanged(topic string) {
	f(topic)
}

// Stats counts storage operations.
type Stats struct {
	Reads     int64
	Writes    int64
	CacheHits int64
}

// FileStore persists one JSON array of ids per topic under a directory.
// Each topic owns its own file, so concurrent runs of different topics do not contend.
type FileStore struct {
	dir      string
	notifier ChangeNotifier
	cache    *lru.Cache[string, cachedSnapshot]

	reads     atomic.Int64
	writes    atomic.Int64
	cacheHits atomic.Int64
}

// NewFileStore creates a store rooted at dir. The directory is created on first write.
// notifier may be nil.
func NewFileStore(dir string, notifier ChangeNotifier) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	cache, err := lru.New[string, cachedSnapshot](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &FileStore{dir: dir, notifier: notifier, cache: cache}, nil
}

// Reconcile compares the ids seen on this run with the stored snapshot, persists the
// new snapshot when membership changed and returns the ids that were not seen before,
// in encounter order.
func (s *FileStore) Reconcile(topic string, current []string) ([]string, error) {
	previous, exists := s.load(topic)
	delta := Diff(previous, current)

	if !delta.Changed() {
		if !exists {
			// First run with nothing on the page still leaves an empty snapshot behind.
			if err := s.save(topic, delta.Snapshot); err != nil {
				slog.Warn("initialise snapshot", slog.String("topic", topic), slog.Any("error", err))
			}
		}
		return delta.NewIDs, nil
	}

	if err := s.save(topic, delta.Snapshot); err != nil {
		return nil, err
	}
	slog.Info("snapshot updated",
		slog.String("topic", topic),
		slog.Int("new", len(delta.NewIDs)),
		slog.Int("expired", len(delta.Expired)),
		slog.Int("size", len(delta.Snapshot)),
	)
	if s.notifier != nil {
		s.notifier.OnStateChanged(topic)
	}
	return delta.NewIDs, nil
}

// Snapshot returns the stored ids for topic, or an empty slice when there are none.
func (s *FileStore) Snapshot(topic string) []string {
	ids, _ := s.load(topic)
	return ids
}

// Path returns the file backing topic.
func (s *FileStore) Path(topic string) string {
	return filepath.Join(s.dir, FileName(topic))
}

// Stats returns a snapshot of the operation counters.
func (s *FileStore) Stats() Stats {
	return Stats{
		Reads:     s.reads.Load(),
		Writes:    s.writes.Load(),
		CacheHits: s.cacheHits.Load(),
	}
}

// Diff splits previous and current into retained, expired and new ids. The snapshot is
// the retained ids in stored order followed by new ids in encounter order.
func Diff(previous, current []string) models.RunDelta {
	inCurrent := make(map[string]struct{}, len(current))
	for _, id := range current {
		inCurrent[id] = struct{}{}
	}

	snapshot := make([]string, 0, len(current))
	expired := []string{}
	seen := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := inCurrent[id]; ok {
			snapshot = append(snapshot, id)
		} else {
			expired = append(expired, id)
		}
	}

	newIDs := []string{}
	for _, id := range current {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		newIDs = append(newIDs, id)
	}

	return models.RunDelta{
		NewIDs:   newIDs,
		Expired:  expired,
		Snapshot: append(snapshot, newIDs...),
	}
}

// load never fails: unreadable or corrupt state is treated as no prior state. A cached
// snapshot is only used while the file on disk is unchanged since it was cached.
func (s *FileStore) load(topic string) ([]string, bool) {
	path := s.Path(topic)
	info, statErr := os.Stat(path)
	if cached, ok := s.cache.Get(topic); ok {
		if statErr == nil && info.ModTime().Equal(cached.modTime) && info.Size() == cached.size {
			s.cacheHits.Add(1)
			return clone(cached.ids), true
		}
		s.cache.Remove(topic)
	}

	s.reads.Add(1)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("snapshot unreadable, assuming empty",
				slog.String("topic", topic),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
		return []string{}, false
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		slog.Warn("snapshot corrupt, assuming empty",
			slog.String("topic", topic),
			slog.String("path", path),
			slog.Any("error", err),
		)
		return []string{}, true
	}
	if ids == nil {
		ids = []string{}
	}
	if statErr == nil {
		s.cache.Add(topic, cachedSnapshot{ids: clone(ids), modTime: info.ModTime(), size: info.Size()})
	}
	return ids, true
}

// remember caches ids against the current version of path.
func (s *FileStore) remember(topic, path string, ids []string) {
	info, err := os.Stat(path)
	if err != nil {
		s.cache.Remove(topic)
		return
	}
	s.cache.Add(topic, cachedSnapshot{ids: clone(ids), modTime: info.ModTime(), size: info.Size()})
}

func (s *FileStore) save(topic string, ids []string) error {
	path := s.Path(topic)
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return &PersistenceError{Topic: topic, Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		s.cache.Remove(topic)
		return &PersistenceError{Topic: topic, Path: path, Err: err}
	}
	s.writes.Add(1)
	s.remember(topic, path, ids)
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// FileName maps a topic name to its snapshot file name.
func FileName(topic string) string {
	return SafeName(topic) + ".json"
}

// SafeName replaces characters that are not allowed in file names.
func SafeName(topic string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		case r < 0x20:
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(topic))
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name
}

func clone(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
