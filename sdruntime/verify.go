package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// fileChecksum streams path through SHA-256 and returns lowercase hex.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return "", fmt.Errorf("sdruntime: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("sdruntime: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares the file behind ref with an expected SHA-256 hex
// digest. An empty expectation skips verification.
func (s *ArtifactStore) VerifyChecksum(ref, expected string) error {
	if expected == "" {
		return nil
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	if _, err := hex.DecodeString(expected); err != nil || len(expected) != 2*sha256.Size {
		return fmt.Errorf("%w: malformed checksum %q for %s", ErrInvalidParams, expected, ref)
	}

	actual, err := fileChecksum(s.Path(ref))
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrModelCorrupted, ref, expected, actual)
	}
	return nil
}
