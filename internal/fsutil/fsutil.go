// Package fsutil provides the atomic file primitives every messenger state
// file goes through: write-to-temp-then-rename on the same filesystem, and
// reads that treat missing or malformed content as absence.
//
// Other agents write the same files concurrently. Rename is atomic on a
// single POSIX filesystem, so readers never observe partial contents; a
// parse failure therefore means a foreign writer on a non-POSIX filesystem
// or a truncated crash artifact, and callers must treat it as "not present"
// rather than an error.
package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// renameRetries bounds silent retries on transient rename failures.
const renameRetries = 3

// WriteJSON marshals v with indentation and atomically replaces path,
// creating parent directories as needed.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, append(data, '\n'))
}

// ReadJSON unmarshals path into out. Missing and malformed files both
// report found=false with a nil error; only real I/O failures are errors.
func ReadJSON(path string, out any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, nil
	}
	return true, nil
}

// WriteFile atomically replaces path with data. The temp file is created
// beside the target so the final rename never crosses filesystems.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), time.Now().UnixNano())
	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	var err error
	for attempt := 0; attempt < renameRetries; attempt++ {
		if err = os.Rename(tmp, path); err == nil {
			return nil
		}
		if !transient(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = os.Remove(tmp)
	return fmt.Errorf("rename into %s: %w", filepath.Base(path), err)
}

// WriteText atomically replaces path with text.
func WriteText(path, text string) error {
	return WriteFile(path, []byte(text))
}

// ReadText returns the file contents. Missing files report found=false.
func ReadText(path string) (text string, found bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func writeAndSync(tmp string, data []byte) error {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return nil
}

func transient(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EEXIST)
}
