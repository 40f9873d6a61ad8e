package session

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

// CredentialStore persists the bearer credential. The guard only clears it.
type CredentialStore interface {
	Token() (string, error)
	Store(token string) error
	Clear() error
}

type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) Store(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Store("")
}

// ConfigStore keeps the credential under a viper key, optionally writing
// the config file back so a cleared credential survives restarts.
type ConfigStore struct {
	mu      sync.Mutex
	v       *viper.Viper
	key     string
	persist bool
}

func NewConfigStore(v *viper.Viper, key string, persist bool) *ConfigStore {
	return &ConfigStore{v: v, key: key, persist: persist}
}

func (s *ConfigStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(s.key), nil
}

func (s *ConfigStore) Store(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(s.key, token)
	if !s.persist || s.v.ConfigFileUsed() == "" {
		return nil
	}
	if err := s.v.WriteConfig(); err != nil {
		return fmt.Errorf("write credential to %s: %w", s.v.ConfigFileUsed(), err)
	}
	return nil
}

func (s *ConfigStore) Clear() error {
	return s.Store("")
}
