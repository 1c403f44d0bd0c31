package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/keyvault/crypto"
)

// FileStore is a SecureStore backed by AES-GCM-encrypted files, for desktop
// targets without a platform keystore. Gates are recorded but cannot be
// enforced without platform support; a GateFunc hook lets the embedding
// application supply its own prompt.
type FileStore struct {
	encryptionKey [32]byte
	dataDir       string

	// GateFunc, when set, is consulted before releasing gated entries.
	GateFunc func(name string, gate Gate) bool
}

const (
	// filePBKDF2Iterations is the PBKDF2 work factor for the at-rest key.
	filePBKDF2Iterations = 100000
	// fileFormatVersion is the on-disk format version.
	fileFormatVersion = 1
	// fileSaltSize is the size of the PBKDF2 salt.
	fileSaltSize = 32
)

// NewFileStore creates a file-backed store rooted at dataDir. The at-rest
// encryption key is derived from masterPassword via PBKDF2; the password
// buffer is wiped before returning.
func NewFileStore(dataDir string, masterPassword []byte) (*FileStore, error) {
	if len(masterPassword) == 0 {
		return nil, fmt.Errorf("master password cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := &FileStore{dataDir: dataDir}

	salt, err := fs.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derivedKey := pbkdf2.Key(masterPassword, salt, filePBKDF2Iterations, 32, sha256.New)
	copy(fs.encryptionKey[:], derivedKey)

	crypto.ZeroBytes(derivedKey)
	crypto.ZeroBytes(masterPassword)

	return fs, nil
}

func (fs *FileStore) saltFile() string {
	return filepath.Join(fs.dataDir, ".salt")
}

// loadOrGenerateSalt loads the existing salt or generates a new one.
func (fs *FileStore) loadOrGenerateSalt() ([]byte, error) {
	salt := make([]byte, fileSaltSize)

	data, err := os.ReadFile(fs.saltFile())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		if err := os.WriteFile(fs.saltFile(), salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}

		return salt, nil
	}

	if len(data) != fileSaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), fileSaltSize)
	}

	copy(salt, data)
	return salt, nil
}

// entryPath maps an entry name to a filesystem-safe filename.
func (fs *FileStore) entryPath(name string) string {
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(name))
	return filepath.Join(fs.dataDir, encoded+".entry")
}

// Put encrypts and writes the entry.
// File format: [version:2][gate:1][nonce:12][ciphertext+tag:N]
func (fs *FileStore) Put(name string, value []byte, gate Gate) error {
	block, err := aes.NewCipher(fs.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, value, nil)

	output := make([]byte, 3+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], fileFormatVersion)
	output[2] = byte(gate)
	copy(output[3:3+len(nonce)], nonce)
	copy(output[3+len(nonce):], ciphertext)

	// Atomic write using temporary file + rename
	finalFile := fs.entryPath(name)
	tmpFile := finalFile + ".tmp"

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Get reads and decrypts the entry, consulting GateFunc for gated entries.
func (fs *FileStore) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(fs.entryPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	// version + gate + nonce + tag
	if len(data) < 3+12+16 {
		return nil, fmt.Errorf("entry too short: %d bytes", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != fileFormatVersion {
		return nil, fmt.Errorf("unsupported entry version: %d (expected %d)", version, fileFormatVersion)
	}

	gate := Gate(data[2])
	if gate == GateBiometric && fs.GateFunc != nil && !fs.GateFunc(name, gate) {
		return nil, ErrGateDenied
	}

	block, err := aes.NewCipher(fs.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	nonce := data[3 : 3+nonceSize]
	ciphertext := data[3+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("entry decryption failed: %w", err)
	}

	return plaintext, nil
}

// Delete overwrites the entry file with zeros before removing it.
func (fs *FileStore) Delete(name string) error {
	path := fs.entryPath(name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat entry: %w", err)
	}

	// Best-effort overwrite; journaling filesystems may keep old blocks.
	zeros := make([]byte, info.Size())
	if err := os.WriteFile(path, zeros, 0o600); err == nil {
		_ = os.Truncate(path, info.Size())
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	return nil
}
