// Package secrets resolves credentials kept out of config.yaml: ${VAR}
// references to the environment and files such as Docker or systemd secrets.
package secrets

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

const maxSecretFileSize = 64 * 1024

// only the braced form expands, a bare $ is common in passwords
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandString replaces ${VAR} and ${VAR:-default} with environment values.
// A referenced variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	var missing []string
	expanded := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		key := ref[2 : len(ref)-1]
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret, trimming the trailing newline editors add.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", newFileError("secret file path is empty", path)
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("path", cleanPath).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", newFileError("secret path is not a regular file", cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", newFileError("secret file too large", cleanPath)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", cleanPath).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", newFileError("secret file is empty", cleanPath)
	}
	return secret, nil
}

// Resolve prefers the file when both are set, then expands value.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

func newFileError(msg, path string) error {
	return errors.Newf("%s", msg).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}
