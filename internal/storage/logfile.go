package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Header is the first line of every local log file.
var Header = fmt.Sprintf("[%5s] [%19s] [%16s] [%19s] %s\n", "Level", "Time", "Module Name", "Function", "[Message]")

// DefaultFileName is the name of the active local log file.
const DefaultFileName = "BG.log"

// rotationLayout is embedded in rotated file names; see Cleaner.
const rotationLayout = "20060102T150405.000"

// FileOptions configures a LogFile.
type FileOptions struct {
	Dir            string
	Name           string
	RetentionLines int // lines per file including the header; 0 disables rotation
	Compression    Compression
	Logger         *slog.Logger
	Now            func() time.Time
}

// LogFile is the local append-only log. It is not safe for concurrent use;
// the owning logger serializes access.
type LogFile struct {
	opts   FileOptions
	path   string
	f      *os.File
	lines  int
	closed bool

	archives sync.WaitGroup
}

// OpenLogFile opens or creates the log file in append mode, writing the
// header if the file is empty.
func OpenLogFile(opts FileOptions) (*LogFile, error) {
	if opts.Name == "" {
		opts.Name = DefaultFileName
	}
	if opts.Compression == "" {
		opts.Compression = CompressionZstd
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	lf := &LogFile{opts: opts, path: filepath.Join(opts.Dir, opts.Name)}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

// openFile is replaced in tests.
var openFile = os.OpenFile

func (lf *LogFile) open() error {
	f, err := openFile(lf.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	lines, err := countLines(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("scan log file: %w", err)
	}

	if lines == 0 {
		if _, err := io.WriteString(f, Header); err != nil {
			f.Close()
			return fmt.Errorf("write header: %w", err)
		}
		lines = 1
	}
	lf.f = f
	lf.lines = lines
	return nil
}

func countLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	n := 0
	r := bufio.NewReader(f)
	buf := make([]byte, 32*1024)
	for {
		c, err := r.Read(buf)
		n += bytes.Count(buf[:c], []byte{'\n'})
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// Path returns the path of the active file.
func (lf *LogFile) Path() string {
	return lf.path
}

// Lines returns the number of lines in the active file, header included.
func (lf *LogFile) Lines() int {
	return lf.lines
}

// Write appends newline-terminated text. The file is rotated as soon as it
// reaches the retention threshold, so a multi-line write may span files.
func (lf *LogFile) Write(p []byte) (int, error) {
	if lf.closed {
		return 0, os.ErrClosed
	}
	if lf.f == nil {
		// A previous rotation left no file open.
		if err := lf.open(); err != nil {
			return 0, err
		}
	}

	written := 0
	for len(p) > 0 {
		line := p
		if i := bytes.IndexByte(p, '\n'); i >= 0 {
			line = p[:i+1]
		}
		n, err := lf.f.Write(line)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(line):]

		if line[len(line)-1] == '\n' {
			lf.lines++
		}
		if lf.opts.RetentionLines > 0 && lf.lines >= lf.opts.RetentionLines {
			if err := lf.rotate(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Sync commits the file to stable storage.
func (lf *LogFile) Sync() error {
	if lf.f == nil {
		return os.ErrClosed
	}
	return lf.f.Sync()
}

func (lf *LogFile) rotate() error {
	if err := lf.f.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}
	lf.f = nil

	target := lf.rotatedName()
	if err := os.Rename(lf.path, target); err != nil {
		// Keep logging into the same file rather than losing records.
		lf.opts.Logger.Warn("log rotation failed", "path", lf.path, "error", err)
		return lf.open()
	}
	lf.opts.Logger.Debug("log file rotated", "archive", target, "lines", lf.lines)

	if err := lf.open(); err != nil {
		return err
	}

	if lf.opts.Compression != CompressionNone {
		lf.archives.Add(1)
		go func() {
			defer lf.archives.Done()
			if _, err := CompressFile(target, lf.opts.Compression); err != nil {
				lf.opts.Logger.Warn("archive compression failed", "path", target, "error", err)
			}
		}()
	}
	return nil
}

func (lf *LogFile) rotatedName() string {
	stem := strings.TrimSuffix(lf.opts.Name, filepath.Ext(lf.opts.Name))
	ext := filepath.Ext(lf.opts.Name)
	ts := lf.opts.Now().UTC().Format(rotationLayout)

	candidate := filepath.Join(lf.opts.Dir, fmt.Sprintf("%s-%s%s", stem, ts, ext))
	for i := 1; exists(candidate) || exists(candidate+lf.opts.Compression.Ext()); i++ {
		candidate = filepath.Join(lf.opts.Dir, fmt.Sprintf("%s-%s-%d%s", stem, ts, i, ext))
	}
	return candidate
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Close waits for pending compression and closes the active file.
func (lf *LogFile) Close() error {
	lf.archives.Wait()
	lf.closed = true
	if lf.f == nil {
		return nil
	}
	err := lf.f.Close()
	lf.f = nil
	return err
}
