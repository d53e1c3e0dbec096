// Package sysutil holds small process-level helpers shared by config, the
// command line and the HTTP wiring.
package sysutil

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a string and returns it.
// Supported values (case-insensitive): debug, info, warn/warning, error,
// fatal, panic. Anything else selects info.
func SetLogLevel(lvl string) zerolog.Level {
	level := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	case "panic":
		level = zerolog.PanicLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// ParseBool reads the boolean spellings accepted in environment variables.
// ok is false when v is none of them.
func ParseBool(v string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

// DeriveKey returns a 32-byte key for purpose, derived from secret. Distinct
// purposes yield unrelated keys, so one configured secret can seed several.
func DeriveKey(secret, purpose string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(purpose))
	return mac.Sum(nil)
}
