package remote

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// atomicWriteJSON marshals v and durably replaces dir/filename with it via
// a temp-file-then-rename, the on-disk contract every small JSON store in
// this package relies on (pairing records, the trusted-device list).
func atomicWriteJSON(dir, filename string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, filename))
}
