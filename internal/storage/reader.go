package storage

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ReadLines returns every line of a local log file. Rotated archives are
// decompressed according to their extension.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch filepath.Ext(path) {
	case CompressionZstd.Ext():
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	case CompressionGzip.Ext():
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// Tail returns the last n elements of lines.
func Tail(lines []string, n int) []string {
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// ListArchives returns the rotated files for the named log, oldest first.
func ListArchives(dir, name string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(name, filepath.Ext(name)) + "-"
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, si := archiveOrder(filepath.Base(out[i]), prefix)
		tj, sj := archiveOrder(filepath.Base(out[j]), prefix)
		if ti != tj {
			return ti < tj
		}
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out, nil
}

// archiveOrder splits BG-<ts>[-n].log into its timestamp and collision index.
func archiveOrder(base, prefix string) (string, int) {
	rest := strings.TrimPrefix(base, prefix)
	if len(rest) < len(rotationLayout) {
		return rest, 0
	}
	ts, rest := rest[:len(rotationLayout)], rest[len(rotationLayout):]
	if !strings.HasPrefix(rest, "-") {
		return ts, 0
	}
	rest = rest[1:]
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return ts, 0
	}
	return ts, n
}
