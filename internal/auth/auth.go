// Package auth resolves and validates the Gemini API key.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".image-edit"
	credentialFile = "credentials.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoAPIKey is returned when no source yields a key.
var ErrNoAPIKey = errors.New("API key not found. Set GEMINI_API_KEY or store it in ~/" + credentialDir + "/" + credentialFile)

// GetAPIKey returns the Gemini API key.
// Priority order:
//  1. configured, the value loaded from flags or GEMINI_API_KEY
//  2. GPG-encrypted file at ~/.image-edit/credentials.gpg
func GetAPIKey(configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		log.Debug().Msg("Using API key from configuration")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Error().Err(err).Msg("Failed to retrieve API key")
	return "", &ValidationError{Type: ErrTypeNoKey, Message: ErrNoAPIKey.Error(), Err: err}
}

func getFromGPG() (string, error) {
	dir, err := credentialHome()
	if err != nil {
		return "", err
	}
	credPath := filepath.Join(dir, credentialFile)
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if pp, ok := passphrasePath(dir); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func credentialHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir), nil
}

// passphrasePath finds an owner-only passphrase file next to the
// credentials, or in the working directory.
func passphrasePath(dir string) (string, bool) {
	candidates := []string{filepath.Join(dir, passphraseFile)}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, passphraseFile))
	}
	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p, true
	}
	return "", false
}
