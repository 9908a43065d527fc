package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/Arnav-102/UrbanPulse/internal/sim/world"
)

// LogFiles lists the rotated files for prefix under dir in chronological order.
// The hour stamp in the file name sorts lexically.
func LogFiles(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadJSONL decodes every line of a zstd JSONL file and hands it to fn.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
	}
	return sc.Err()
}

// ReadTicks loads every tick entry under dataDir, oldest first.
func ReadTicks(dataDir string) ([]world.TickLogEntry, error) {
	paths, err := LogFiles(filepath.Join(dataDir, TickPrefix), TickPrefix)
	if err != nil {
		return nil, err
	}
	var out []world.TickLogEntry
	for _, p := range paths {
		err := ReadJSONL(p, func(line []byte) error {
			var e world.TickLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func ReadAudit(dataDir string) ([]world.AuditEntry, error) {
	paths, err := LogFiles(filepath.Join(dataDir, AuditPrefix), AuditPrefix)
	if err != nil {
		return nil, err
	}
	var out []world.AuditEntry
	for _, p := range paths {
		err := ReadJSONL(p, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
