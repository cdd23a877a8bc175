package convert

import (
	"os"

	"gitlab.com/tozd/go/errors"
)

const tempSuffix = ".famigrate.tmp"

// staged is an output written beside its destination and not yet committed.
type staged struct {
	temp string
	dest string
}

func stage(dest string) *staged {
	return &staged{temp: dest + tempSuffix, dest: dest}
}

func (s *staged) write(content []byte) error {
	if err := os.WriteFile(s.temp, content, 0644); err != nil {
		return errors.Errorf("writing temp file: %w", err)
	}
	return nil
}

// commit renames the temp file into place.
func (s *staged) commit() error {
	if err := os.Rename(s.temp, s.dest); err != nil {
		s.rollback()
		return errors.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// rollback removes the temp file, if any.
func (s *staged) rollback() {
	_ = os.Remove(s.temp)
}
