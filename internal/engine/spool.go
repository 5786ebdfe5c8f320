package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/braingenix/bglog/internal/model"
)

// SpoolFileName is the name of the spool inside the log directory.
const SpoolFileName = "transmit.spool"

// maxFrame bounds a single spooled record; larger length prefixes are
// treated as corruption.
const maxFrame = 16 << 20

// spoolEntry is the on-disk form of a spooled record.
type spoolEntry struct {
	Level    int    `json:"lvl"`
	Time     string `json:"ts"`
	Module   string `json:"mod"`
	Function string `json:"fn"`
	Message  string `json:"msg"`
	Node     string `json:"node"`
}

// Spool holds records that could not be transmitted yet. Records are
// appended as [len uint32][json] frames and consumed from a read offset, so
// replay order is append order.
type Spool struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	readOff int64
	size    int64
	pending int
	peeked  []int64
	parser  fastjson.Parser
}

// OpenSpool opens or creates the spool at path. Records left by a previous
// run are kept; a torn frame at the tail is truncated away.
func OpenSpool(path string) (*Spool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Spool{file: f, path: path}
	if err := s.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Spool) recover() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.file)
	var off int64
	count := 0
	for {
		data, err := readFrame(r)
		if err != nil {
			break
		}
		if _, err := s.parser.ParseBytes(data); err != nil {
			break
		}
		off += int64(4 + len(data))
		count++
	}

	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() != off {
		if err := s.file.Truncate(off); err != nil {
			return fmt.Errorf("truncate torn spool tail: %w", err)
		}
	}
	s.size = off
	s.pending = count
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrame {
		return nil, fmt.Errorf("spool frame length %d out of range", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}

// Path returns the spool file path.
func (s *Spool) Path() string {
	return s.path
}

// Pending returns the number of records not yet consumed.
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Append adds a record at the tail.
func (s *Spool) Append(r model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, err := encodeFrame(r)
	if err != nil {
		return err
	}
	if _, err := s.file.WriteAt(frame, s.size); err != nil {
		return err
	}
	s.size += int64(len(frame))
	s.pending++
	return nil
}

// Prepend puts recs ahead of every pending record, keeping their order.
func (s *Spool) Prepend(recs []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, r := range recs {
		frame, err := encodeFrame(r)
		if err != nil {
			return err
		}
		buf.Write(frame)
	}
	rest := make([]byte, s.size-s.readOff)
	if _, err := s.file.ReadAt(rest, s.readOff); err != nil && err != io.EOF {
		return err
	}
	buf.Write(rest)

	if err := s.rewriteLocked(buf.Bytes()); err != nil {
		return err
	}
	s.pending += len(recs)
	return nil
}

func encodeFrame(r model.Record) ([]byte, error) {
	data, err := json.Marshal(spoolEntry{
		Level:    int(r.Level),
		Time:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		Module:   r.Module,
		Function: r.Function,
		Message:  r.Message,
		Node:     r.NodeID,
	})
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	return frame, nil
}

// rewriteLocked replaces the file content with data through a temporary
// file, so a crash leaves either the old or the new spool.
func (s *Spool) rewriteLocked(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	s.file.Close()
	s.file = f
	s.readOff = 0
	s.size = int64(len(data))
	s.peeked = s.peeked[:0]
	return nil
}

// Peek returns up to max records from the head without consuming them.
// Advance consumes a prefix of the last Peek.
func (s *Spool) Peek(max int) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peeked = s.peeked[:0]
	if s.pending == 0 || max <= 0 {
		return nil, nil
	}

	r := bufio.NewReader(io.NewSectionReader(s.file, s.readOff, s.size-s.readOff))
	off := s.readOff
	var out []model.Record
	for len(out) < max {
		data, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read spool at %d: %w", off, err)
		}
		rec, err := s.decode(data)
		if err != nil {
			return out, fmt.Errorf("decode spool at %d: %w", off, err)
		}
		off += int64(4 + len(data))
		out = append(out, rec)
		s.peeked = append(s.peeked, off)
	}
	return out, nil
}

func (s *Spool) decode(data []byte) (model.Record, error) {
	v, err := s.parser.ParseBytes(data)
	if err != nil {
		return model.Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes("ts")))
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{
		Level:     model.Level(v.GetInt("lvl")),
		Timestamp: ts.UTC(),
		Module:    string(v.GetStringBytes("mod")),
		Function:  string(v.GetStringBytes("fn")),
		Message:   string(v.GetStringBytes("msg")),
		NodeID:    string(v.GetStringBytes("node")),
	}, nil
}

// Advance consumes the first n records returned by the last Peek. Once
// nothing is pending the file is truncated.
func (s *Spool) Advance(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > len(s.peeked) {
		return errors.New("spool advance beyond peeked records")
	}
	s.readOff = s.peeked[n-1]
	s.pending -= n
	s.peeked = s.peeked[:0]
	if s.pending == 0 {
		return s.resetLocked()
	}
	return nil
}

// Reset discards every record.
func (s *Spool) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Spool) resetLocked() error {
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	s.readOff = 0
	s.size = 0
	s.pending = 0
	s.peeked = s.peeked[:0]
	return nil
}

// compactLocked drops the consumed prefix so a restart does not replay
// records that were already committed.
func (s *Spool) compactLocked() error {
	if s.readOff == 0 {
		return nil
	}
	if s.pending == 0 {
		return s.resetLocked()
	}
	rest := make([]byte, s.size-s.readOff)
	if _, err := s.file.ReadAt(rest, s.readOff); err != nil && err != io.EOF {
		return err
	}
	return s.rewriteLocked(rest)
}

// Sync flushes the spool to disk.
func (s *Spool) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close compacts and closes the spool.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.compactLocked()
	if serr := s.file.Sync(); err == nil {
		err = serr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
