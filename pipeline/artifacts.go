package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/aluiziolira/go-watch-listings/store"
)

// DebugWriter keeps the last fetched markup of each topic on disk for inspection.
type DebugWriter struct {
	dir string
}

// NewDebugWriter writes dumps under dir.
func NewDebugWriter(dir string) *DebugWriter {
	return &DebugWriter{dir: dir}
}

// Path returns the dump file for topic.
func (w *DebugWriter) Path(topic string) string {
	return filepath.Join(w.dir, "last_response_"+store.SafeName(topic)+".html")
}

// Write overwrites the dump for topic with markup.
func (w *DebugWriter) Write(topic, markup string) error {
	path := w.Path(topic)
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return fmt.Errorf("write debug dump: %w", err)
	}
	return nil
}

// ChangeFlag touches an empty marker file whenever a topic's snapshot changes, so an
// outer job knows there is state to commit.
type ChangeFlag struct {
	path    string
	changes atomic.Int64
}

// NewChangeFlag writes its marker at path.
func NewChangeFlag(path string) *ChangeFlag {
	return &ChangeFlag{path: path}
}

// OnStateChanged implements store.ChangeNotifier.
func (f *ChangeFlag) OnStateChanged(topic string) {
	f.changes.Add(1)
	if err := f.touch(); err != nil {
		slog.Error("write change flag",
			slog.String("topic", topic),
			slog.String("path", f.path),
			slog.Any("error", err),
		)
	}
}

// Raised reports whether any change was recorded by this process.
func (f *ChangeFlag) Raised() bool {
	return f.changes.Load() > 0
}

// Path returns the marker location.
func (f *ChangeFlag) Path() string {
	return f.path
}

func (f *ChangeFlag) touch() error {
	if err := ensureDir(f.path); err != nil {
		return err
	}
	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("create change flag: %w", err)
	}
	return file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
