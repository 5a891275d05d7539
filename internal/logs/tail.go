package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

const (
	maxLineSize         = 1024 * 1024
	defaultPollInterval = 250 * time.Millisecond
)

// Position marks how far a file has been read.
type Position struct {
	Offset int64
	file   os.FileInfo
}

// LastLines returns up to limit trailing lines of path and the position just
// past them. A missing file yields no lines and a zero position.
func LastLines(path string, limit int) ([]string, Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Position{}, nil
		}
		return nil, Position{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, Position{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, Position{}, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return nil, Position{Offset: info.Size(), file: info}, nil
	}

	scanner := newScanner(file)
	ring := make([]string, limit)
	count, idx := 0, 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Position{}, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, Position{}, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, Position{Offset: offset, file: info}, nil
}

// ReadFrom returns complete lines written after pos. If path now names a
// different file, or the file shrank, reading restarts at the beginning.
func ReadFrom(path string, pos Position) ([]string, Position, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pos, nil
		}
		return nil, pos, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, pos, fmt.Errorf("stat log file: %w", err)
	}
	offset := pos.Offset
	if pos.file == nil || !os.SameFile(pos.file, info) || info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, pos, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line is left for the next read.
			break
		}
		offset += int64(len(line))
		lines = append(lines, trimNewline(line))
	}
	return lines, Position{Offset: offset, file: info}, nil
}

// Follow calls emit for every line appended to path after pos until ctx is
// cancelled. A zero poll interval uses a default.
func Follow(ctx context.Context, path string, pos Position, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		lines, next, err := ReadFrom(path, pos)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		pos = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}

func trimNewline(line string) string {
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
