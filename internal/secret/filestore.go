package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/crypto/argon2"
)

// secretKeyEnv names the environment variable carrying the optional
// passphrase used to encrypt the store at rest.
const secretKeyEnv = "SOFTCODES_SECRET_KEY"

const saltSize = 16

// FileStore persists secrets as a single JSON document on disk. Writes go
// through tidwall/sjson so updating one key leaves every other key untouched,
// which is what keeps an existing organization id intact when a refresh
// response omits it. When a passphrase is present in the environment the
// document is sealed with AES-GCM under an argon2id-derived key.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed secret store rooted at dir. The backing
// file is created lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "secrets.json")}
}

// Get returns the value stored under key, or the empty string when absent.
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(doc, escapeKey(key)).String(), nil
}

// Set writes value under key, preserving all other keys in the document.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(doc, escapeKey(key), value)
	if err != nil {
		return fmt.Errorf("secret filestore: set %s failed: %w", key, err)
	}
	return s.writeDocument(updated)
}

// Delete removes key from the document. Deleting an absent key is a no-op.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	if !gjson.GetBytes(doc, escapeKey(key)).Exists() {
		return nil
	}
	updated, err := sjson.DeleteBytes(doc, escapeKey(key))
	if err != nil {
		return fmt.Errorf("secret filestore: delete %s failed: %w", key, err)
	}
	return s.writeDocument(updated)
}

// Keys enumerates every key currently present in the document.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return nil, err
	}
	var keys []string
	gjson.ParseBytes(doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys, nil
}

// readDocument loads and, when a passphrase is configured, unseals the JSON
// document. A missing file yields an empty document.
func (s *FileStore) readDocument() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("secret filestore: read failed: %w", err)
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}

	passphrase := os.Getenv(secretKeyEnv)
	if passphrase == "" {
		return data, nil
	}

	doc, err := unseal(data, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("secret filestore: unseal failed: %w", err)
	}
	return doc, nil
}

// writeDocument seals (when configured) and writes the document atomically via
// a rename so a crashed write never leaves a truncated store behind.
func (s *FileStore) writeDocument(doc []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("secret filestore: create dir failed: %w", err)
	}

	out := doc
	if passphrase := os.Getenv(secretKeyEnv); passphrase != "" {
		sealed, err := seal(doc, []byte(passphrase))
		if err != nil {
			return fmt.Errorf("secret filestore: seal failed: %w", err)
		}
		out = sealed
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("secret filestore: write failed: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("secret filestore: rename failed: %w", err)
	}
	return nil
}

// sealedDocument is the on-disk envelope for an encrypted store.
type sealedDocument struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// seal encrypts the document with AES-GCM under an argon2id key derived from
// the passphrase and a random salt.
func seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return json.Marshal(&sealedDocument{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// unseal reverses seal.
func unseal(data, passphrase []byte) ([]byte, error) {
	var envelope sealedDocument
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// escapeKey neutralizes gjson path syntax in store keys so a key is always
// treated as a single literal map entry.
func escapeKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(key)
}
