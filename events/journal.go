package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/tolelom/dmachain/internal/logger"
)

// Journal appends every event as one JSON line to zstd-compressed files,
// rotated per UTC day: <dir>/<prefix>-2006-01-02.jsonl.zst.
type Journal struct {
	dir    string
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	curDay string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

// NewJournal creates a journal writing under dir. Files are opened lazily.
func NewJournal(dir, prefix string) *Journal {
	if prefix == "" {
		prefix = "events"
	}
	return &Journal{dir: dir, prefix: prefix, now: time.Now}
}

// Handle is an emitter Handler. Write failures are logged, never raised.
func (j *Journal) Handle(ev Event) {
	if err := j.Write(ev); err != nil {
		logger.Warn("journal write failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// Write appends ev and flushes the line through the compressor.
func (j *Journal) Write(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := j.now().UTC().Format("2006-01-02")
	if day != j.curDay {
		if err := j.rotateLocked(day); err != nil {
			return err
		}
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.enc.Flush()
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

// Path returns the file used for the given day.
func (j *Journal) Path(day string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl.zst", j.prefix, day))
}

func (j *Journal) rotateLocked(day string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.Path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curDay = day
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.w = nil
	j.curDay = ""
	return err
}

// ReadJournal decodes every event stored in a journal file.
func ReadJournal(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Event
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return out, fmt.Errorf("decode journal line: %w", err)
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

// Files lists the journal's day files, oldest first.
func (j *Journal) Files() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(j.dir, j.prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
