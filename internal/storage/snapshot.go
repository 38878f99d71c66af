package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"kalshi_go/internal/orderbook"
)

// BookDump is a point-in-time capture of every reconciled book, written for post-mortem.
type BookDump struct {
	Seq    uint64                    `json:"seq"` // Engine event sequence at dump time
	TsUnix int64                     `json:"ts"`
	Reason string                    `json:"reason"`
	Books  map[string]orderbook.View `json:"books"`
}

// SnapshotManager handles saving and loading book dumps.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager creates a manager writing into dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// CreateBookDump renders books for writing.
func CreateBookDump(seq uint64, reason string, books []orderbook.Book) *BookDump {
	views := make(map[string]orderbook.View, len(books))
	for _, b := range books {
		views[b.Ticker] = b.View()
	}
	return &BookDump{Seq: seq, TsUnix: time.Now().Unix(), Reason: reason, Books: views}
}

func dumpName(seq uint64, ts int64) string {
	return fmt.Sprintf("books_%d_%d.json", seq, ts)
}

// Save writes a dump to disk and returns its path.
func (sm *SnapshotManager) Save(dump *BookDump) (string, error) {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	path := filepath.Join(sm.dir, dumpName(dump.Seq, dump.TsUnix))

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal book dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write book dump: %w", err)
	}

	slog.Info("Book dump saved",
		slog.Uint64("seq", dump.Seq),
		slog.Int("books", len(dump.Books)),
		slog.String("reason", dump.Reason),
		slog.String("path", path))
	return path, nil
}

type dumpFile struct {
	path string
	seq  uint64
	ts   int64
}

func (sm *SnapshotManager) list() ([]dumpFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	var files []dumpFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var f dumpFile
		if _, err := fmt.Sscanf(entry.Name(), "books_%d_%d.json", &f.seq, &f.ts); err != nil {
			continue
		}
		f.path = filepath.Join(sm.dir, entry.Name())
		files = append(files, f)
	}
	// Newest first
	sort.Slice(files, func(i, j int) bool {
		if files[i].ts != files[j].ts {
			return files[i].ts > files[j].ts
		}
		return files[i].seq > files[j].seq
	})
	return files, nil
}

// LoadLatest loads the most recent dump. Returns nil if none exists.
func (sm *SnapshotManager) LoadLatest() (*BookDump, error) {
	files, err := sm.list()
	if err != nil || len(files) == 0 {
		return nil, err
	}
	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read book dump: %w", err)
	}
	var dump BookDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book dump: %w", err)
	}
	return &dump, nil
}

// Cleanup removes old dumps, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old book dump", slog.String("path", files[i].path))
		}
	}
	return nil
}
