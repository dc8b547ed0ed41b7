package policy

import (
	"fmt"
	"os"
)

// SaveFile writes a serialized parameter blob to path, overwriting any
// previous model in place.
func SaveFile(path string, blob []byte) error {
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}

// LoadFile loads parameters into p from the model file at path.
func LoadFile(p Policy, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model file: %w", err)
	}
	return p.LoadStateBytes(data)
}
