// Package pollstate persists the transport's opaque poll checkpoint. The
// blob is never parsed or mutated here; the only job is durable at-rest
// storage that can never corrupt the previous valid copy.
package pollstate

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/google/renameio/v2"
)

type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the checkpoint written by a previous run. A missing file or
// unparseable content both come back as absent: the transport re-polls from
// scratch, which is slow but correct.
func (f *File) Load() ([]byte, bool, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !json.Valid(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

// Save overwrites the checkpoint atomically: the write lands fully or the
// old copy stays intact.
func (f *File) Save(blob []byte) error {
	return renameio.WriteFile(f.path, blob, 0o644)
}
