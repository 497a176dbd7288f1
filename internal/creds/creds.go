// Package creds persists account material (username, sentry handle, renewal
// token) across restarts so the agent can log back in without prompting. The
// renewal token is sealed with the secretbox before it touches disk.
package creds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"automatic/internal/domain"
	"automatic/internal/security/secretbox"
)

type FileStore struct {
	path string
	box  *secretbox.Box
}

// NewFileStore builds an account store at path. box may be nil, in which
// case the renewal token is stored in the clear (not recommended outside
// development).
func NewFileStore(path string, box *secretbox.Box) *FileStore {
	return &FileStore{path: path, box: box}
}

type accountFile struct {
	Username    string `json:"username"`
	Sentry      string `json:"sentry,omitempty"`
	SealedToken string `json:"sealed_token,omitempty"`
	PlainToken  string `json:"renewal_token,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func (s *FileStore) Load() (domain.Account, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	var file accountFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return domain.Account{}, false, fmt.Errorf("parse account file %s: %w", s.path, err)
	}

	account := domain.Account{
		Username: file.Username,
		Sentry:   file.Sentry,
	}
	switch {
	case file.SealedToken != "" && s.box != nil:
		token, err := s.box.Open(file.SealedToken)
		if err != nil {
			// A token sealed under a different key is useless, not
			// fatal; the supervisor falls back to interactive login.
			return account, true, fmt.Errorf("unseal renewal token: %w", err)
		}
		account.RenewalToken = token
	case file.PlainToken != "":
		account.RenewalToken = file.PlainToken
	}
	return account, true, nil
}

func (s *FileStore) Save(account domain.Account) error {
	file := accountFile{
		Username:  account.Username,
		Sentry:    account.Sentry,
		UpdatedAt: account.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if account.RenewalToken != "" {
		if s.box != nil {
			sealed, err := s.box.Seal(account.RenewalToken)
			if err != nil {
				return fmt.Errorf("seal renewal token: %w", err)
			}
			file.SealedToken = sealed
		} else {
			file.PlainToken = account.RenewalToken
		}
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	return renameio.WriteFile(s.path, raw, 0o600)
}
