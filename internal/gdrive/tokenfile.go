package gdrive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// Token files are owner-only.
const (
	tokenFilePerms = 0o600
	tokenDirPerms  = 0o700
)

type tokenFile struct {
	Token *oauth2.Token `json:"token"`
}

// loadToken reads a saved token. Returns (nil, nil) if the file does not
// exist.
func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("gdrive: reading token %s: %w", path, err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("gdrive: decoding token %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("gdrive: %s missing token field (re-login required)", path)
	}

	return tf.Token, nil
}

// saveToken writes the token atomically (temp file + rename) with 0600
// permissions. Never logs token values.
func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tokenFile{Token: tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("gdrive: encoding token: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, tokenDirPerms); mkErr != nil {
		return fmt.Errorf("gdrive: creating directory %s: %w", dir, mkErr)
	}

	// Same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("gdrive: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("gdrive: setting token permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("gdrive: writing token: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("gdrive: syncing token: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gdrive: closing token: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("gdrive: renaming token: %w", err)
	}

	success = true

	return nil
}
