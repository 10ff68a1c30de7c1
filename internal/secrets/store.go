// Package secrets keeps provider credentials per connection in a local file
// (0600), sealed with AES-GCM. It is not a replacement for an OS keychain but
// keeps tokens out of plain-text config.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

const fileName = "tokens.json"

// ErrNotFound is returned when no token is stored for a connection.
var ErrNotFound = errors.New("no credential stored for connection")

type secretFile struct {
	Tokens map[string]string `json:"tokens"` // connection -> base64(ciphertext)
}

// Store is a file-backed credential store. Safe for concurrent use within one
// process.
type Store struct {
	path string
	key  []byte
	mu   sync.Mutex
}

// NewStore opens the store under dir, creating it if needed. An empty
// passphrase derives the key from the OS user, as a last resort.
func NewStore(dir, passphrase string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "ledgersync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, fileName), key: masterKey(passphrase)}, nil
}

// PutToken stores tok for connectionID, replacing any previous token.
func (s *Store) PutToken(connectionID string, tok *oauth2.Token) error {
	if connectionID = norm(connectionID); connectionID == "" {
		return fmt.Errorf("connection id required")
	}
	if tok == nil {
		return fmt.Errorf("token required")
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	ct, err := s.encrypt(plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	if sf.Tokens == nil {
		sf.Tokens = map[string]string{}
	}
	sf.Tokens[connectionID] = base64.StdEncoding.EncodeToString(ct)
	return save(s.path, sf)
}

// Token returns the token stored for connectionID.
func (s *Store) Token(connectionID string) (*oauth2.Token, error) {
	if connectionID = norm(connectionID); connectionID == "" {
		return nil, fmt.Errorf("connection id required")
	}
	s.mu.Lock()
	sf, err := load(s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	enc, ok := sf.Tokens[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, err
	}
	pt, err := s.decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(pt, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Delete removes the token of connectionID. Missing entries are a no-op.
func (s *Store) Delete(connectionID string) error {
	if connectionID = norm(connectionID); connectionID == "" {
		return fmt.Errorf("connection id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	if _, ok := sf.Tokens[connectionID]; !ok {
		return nil
	}
	delete(sf.Tokens, connectionID)
	return save(s.path, sf)
}

// TokenSource serves the stored token of connectionID. Expired tokens are
// reported as such; refreshing them is the linking flow's job.
func (s *Store) TokenSource(connectionID string) oauth2.TokenSource {
	return storeSource{store: s, id: connectionID}
}

type storeSource struct {
	store *Store
	id    string
}

func (ts storeSource) Token() (*oauth2.Token, error) {
	tok, err := ts.store.Token(ts.id)
	if err != nil {
		return nil, err
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("token for connection %s expired at %s", ts.id, tok.Expiry)
	}
	return tok, nil
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, err
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func masterKey(passphrase string) []byte {
	if passphrase == "" {
		passphrase = fmt.Sprintf("ledgersync-%s-%s", runtime.GOOS, os.Getenv("USER"))
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *Store) encrypt(plain []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
