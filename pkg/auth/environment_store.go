package auth

import (
	"os"
	"time"
)

const (
	EnvAccessToken = "PIXIVDL_ACCESS_TOKEN"
	EnvUserID      = "PIXIVDL_USER_ID"
	EnvSessionID   = "PIXIVDL_FANBOX_SESSION_ID"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(EnvAccessToken)
	session := os.Getenv(EnvSessionID)

	if token == "" && session == "" {
		return nil, ErrCredentialsNotFound
	}

	// the environment carries no account name
	if name == "" {
		name = "env"
	}

	return &Account{
		Name:             name,
		PixivUserID:      os.Getenv(EnvUserID),
		PixivAccessToken: token,
		FanboxSessionID:  session,
		LastModified:     time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(EnvAccessToken) != "" || os.Getenv(EnvSessionID) != ""
}
