package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// WriteError indicates a durable write failed. A commit that sees one must
// treat the cycle as not committed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Ledger is the append-only durable log of committed cycles. The active
// file holds the unconsolidated replay set; Archive moves processed records
// to a sibling archive file without deleting history.
type Ledger struct {
	mu          sync.Mutex
	path        string
	archivePath string
	file        *os.File
	lastSeq     int64
}

// Open opens (or creates) the ledger at path. The highest existing sequence
// number is recovered by scanning the active file.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &WriteError{Op: "open", Err: err}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &WriteError{Op: "open", Err: err}
	}

	l := &Ledger{
		path:        path,
		archivePath: archivePathFor(path),
		file:        file,
	}

	records, err := readRecords(path)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if len(records) > 0 {
		l.lastSeq = records[len(records)-1].Seq
	} else if archived, err := readRecords(l.archivePath); err == nil && len(archived) > 0 {
		l.lastSeq = archived[len(archived)-1].Seq
	}

	return l, nil
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LastSeq returns the sequence number of the most recently appended record.
func (l *Ledger) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append writes one record durably, assigning the next sequence number and
// a sortable ID. The record is synced to disk before Append returns; on any
// failure the caller must not consider the cycle committed.
func (l *Ledger) Append(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return Record{}, &WriteError{Op: "append", Err: fmt.Errorf("ledger closed")}
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.Seq = l.lastSeq + 1
	if rec.ID == "" {
		rec.ID = NewRecordID(rec.Timestamp)
	}
	for i := range rec.Tools {
		rec.Tools[i].Result = RedactResult(rec.Tools[i].Result)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, &WriteError{Op: "append", Err: err}
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return Record{}, &WriteError{Op: "append", Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return Record{}, &WriteError{Op: "append", Err: err}
	}

	l.lastSeq = rec.Seq
	return rec, nil
}

// Replay returns all records in the active replay set, in commit order.
// A torn trailing line from an interrupted append is skipped, so a crashed
// commit replays as if it never started.
func (l *Ledger) Replay() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readRecords(l.path)
}

// ReplayFrom returns active records with Seq >= from, in commit order.
func (l *Ledger) ReplayFrom(from int64) ([]Record, error) {
	records, err := l.Replay()
	if err != nil {
		return nil, err
	}
	out := records[:0:0]
	for _, rec := range records {
		if rec.Seq >= from {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Archive moves all active records with Seq <= upto into the archive file.
// History is preserved; only the active replay set shrinks. The active file
// is replaced via a staging file and rename so a crash never loses records.
func (l *Ledger) Archive(upto int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := readRecords(l.path)
	if err != nil {
		return err
	}

	var archived, kept []Record
	for _, rec := range records {
		if rec.Seq <= upto {
			archived = append(archived, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	if len(archived) == 0 {
		return nil
	}

	archiveFile, err := os.OpenFile(l.archivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &WriteError{Op: "archive", Err: err}
	}
	for _, rec := range archived {
		line, err := json.Marshal(rec)
		if err != nil {
			_ = archiveFile.Close()
			return &WriteError{Op: "archive", Err: err}
		}
		if _, err := archiveFile.Write(append(line, '\n')); err != nil {
			_ = archiveFile.Close()
			return &WriteError{Op: "archive", Err: err}
		}
	}
	if err := archiveFile.Sync(); err != nil {
		_ = archiveFile.Close()
		return &WriteError{Op: "archive", Err: err}
	}
	if err := archiveFile.Close(); err != nil {
		return &WriteError{Op: "archive", Err: err}
	}

	staging := l.path + ".staging"
	var b strings.Builder
	for _, rec := range kept {
		line, err := json.Marshal(rec)
		if err != nil {
			return &WriteError{Op: "archive", Err: err}
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(staging, []byte(b.String()), 0o644); err != nil {
		return &WriteError{Op: "archive", Err: err}
	}

	if l.file != nil {
		_ = l.file.Close()
	}
	if err := os.Rename(staging, l.path); err != nil {
		return &WriteError{Op: "archive", Err: err}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.file = nil
		return &WriteError{Op: "archive", Err: err}
	}
	l.file = file
	return nil
}

func archivePathFor(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".archive" + ext
}

func readRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &WriteError{Op: "replay", Err: err}
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &WriteError{Op: "replay", Err: err}
	}

	records := make([]Record, 0, len(lines))
	for i, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			if i == len(lines)-1 {
				// Interrupted append; the commit never completed.
				break
			}
			return nil, &WriteError{Op: "replay", Err: fmt.Errorf("corrupt record at line %d: %w", i+1, err)}
		}
		records = append(records, rec)
	}
	return records, nil
}
