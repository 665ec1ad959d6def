package app

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"

	"sealbox/go-core/internal/platform/privacylog"
)

// DefaultLogger is the daemon's stock logger: JSON to stdout, wrapped so
// credentials and user identifiers never reach the sink unsanitized.
func DefaultLogger(level slog.Level) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(privacylog.WrapHandler(base))
}

// GeneratePrefixedID mints correlation ids like "boot_3f9c...". The daemon
// tags every log line of a run with one.
func GeneratePrefixedID(prefix string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}
