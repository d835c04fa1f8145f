package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/openfang-project/openfang/internal/secret"
)

// Vault stores named credentials (provider API keys, webhook tokens, peer
// shared secrets) encrypted at rest with AES-256-GCM. Values live in
// memory only as secret.String, so they redact under any formatting path;
// the on-disk form is a single sealed blob re-encrypted on every write
// with a fresh nonce.
type Vault struct {
	mu      sync.Mutex
	path    string // "" = in-memory only
	aead    cipher.AEAD
	entries map[string]secret.String
}

// NewVault opens (or initializes) the vault at path, unsealing it with
// key. The key must be 32 bytes. An empty path keeps the vault in memory
// only. A missing file starts empty; a file sealed under a different key
// fails to open.
func NewVault(path string, key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	v := &Vault{path: path, aead: aead, entries: make(map[string]secret.String)}
	if path != "" {
		if err := v.load(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Put stores value under name and seals the vault to disk.
func (v *Vault) Put(name, value string) error {
	if name == "" {
		return fmt.Errorf("vault: credential name is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if old, ok := v.entries[name]; ok {
		old.Destroy()
	}
	v.entries[name] = secret.New(value)
	return v.persistLocked()
}

// Get returns the credential stored under name.
func (v *Vault) Get(name string) (secret.String, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.entries[name]
	return s, ok
}

// Delete destroys the credential under name and seals the vault.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.entries[name]
	if !ok {
		return nil
	}
	s.Destroy()
	delete(v.entries, name)
	return v.persistLocked()
}

// Names returns every stored credential name, sorted. Values are never
// listed.
func (v *Vault) Names() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.entries))
	for name := range v.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sealedVault is the on-disk shape: one nonce plus the GCM ciphertext of
// the JSON-encoded name→value map.
type sealedVault struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func (v *Vault) persistLocked() error {
	if v.path == "" {
		return nil
	}
	plain := make(map[string]string, len(v.entries))
	for name, s := range v.entries {
		plain[name] = s.Expose()
	}
	encoded, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("vault: encode: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := sealedVault{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(v.aead.Seal(nil, nonce, encoded, nil)),
	}
	for i := range encoded {
		encoded[i] = 0
	}

	out, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("vault: encode sealed: %w", err)
	}
	return os.WriteFile(v.path, out, 0o600)
}

func (v *Vault) load() error {
	raw, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: read: %w", err)
	}

	var sealed sealedVault
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return fmt.Errorf("vault: parse: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return fmt.Errorf("vault: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	plain, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("vault: unseal failed (wrong key or corrupted file)")
	}

	var entries map[string]string
	if err := json.Unmarshal(plain, &entries); err != nil {
		return fmt.Errorf("vault: decode entries: %w", err)
	}
	for i := range plain {
		plain[i] = 0
	}
	for name, value := range entries {
		v.entries[name] = secret.New(value)
	}
	return nil
}
