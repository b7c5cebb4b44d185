// Package store is an encrypted key/value store kept in an embedded sqlite
// database, driven through the dbi boundary. It doubles as the reference
// host for the driver: it exercises the prepare cache, binding, the
// auto-stepped exec path, row iteration and transactions.
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/naviserver-project/nsdbilite/pkg/dbi"
)

// ErrNotFound is returned when the requested key is not in the store.
var ErrNotFound = errors.New("key not found")

// Store is an encrypted key/value store over one dbi handle.
type Store struct {
	h   *dbi.Handle
	key []byte
}

// Open connects through the driver and makes sure the store table exists.
func Open(d dbi.Driver, key []byte) (*Store, error) {
	h, err := dbi.Open(d)
	if err != nil {
		return nil, fmt.Errorf("can't open store handle: %w", err)
	}
	if err := h.Exec(`CREATE TABLE IF NOT EXISTS kv_secrets (skey TEXT PRIMARY KEY, sval BLOB)`); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("can't create store table: %w", err)
	}
	log.Printf("[DEBUG] store opened")
	return &Store{h: h, key: key}, nil
}

// Close releases the handle and all cached statements.
func (s *Store) Close() error {
	return s.h.Close()
}

// Set stores a secret, encrypted, replacing any previous value.
func (s *Store) Set(key, value string) error {
	sealed, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("can't encrypt value for %s: %w", key, err)
	}

	if err := s.h.Begin(dbi.IsolationDefault); err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	err = s.h.Exec("INSERT OR REPLACE INTO kv_secrets (skey, sval) VALUES (?, ?)",
		dbi.TextValue(key), dbi.BinaryValue(sealed))
	if err != nil {
		if rbErr := s.h.Rollback(); rbErr != nil {
			log.Printf("[WARN] can't rollback set of %s: %v", key, rbErr)
		}
		return fmt.Errorf("can't store secret for %s: %w", key, err)
	}
	return s.h.Commit()
}

// Get retrieves and decrypts the secret for key.
func (s *Store) Get(key string) (string, error) {
	rows, err := s.h.Query("SELECT sval FROM kv_secrets WHERE skey = ?", dbi.TextValue(key))
	if err != nil {
		return "", fmt.Errorf("can't load secret for %s: %w", key, err)
	}
	defer rows.Close() // nolint

	ok, err := rows.Next()
	if err != nil {
		return "", fmt.Errorf("can't fetch secret for %s: %w", key, err)
	}
	if !ok {
		return "", ErrNotFound
	}
	sealed := rows.Columns()[0].Data

	value, err := s.decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("can't decrypt secret for %s: %w", key, err)
	}
	return value, nil
}

// Delete removes the secret for key, failing with ErrNotFound when the key
// is not stored.
func (s *Store) Delete(key string) error {
	if err := s.h.Begin(dbi.IsolationDefault); err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	rollback := func() {
		if err := s.h.Rollback(); err != nil {
			log.Printf("[WARN] can't rollback delete of %s: %v", key, err)
		}
	}

	rows, err := s.h.Query("SELECT 1 FROM kv_secrets WHERE skey = ?", dbi.TextValue(key))
	if err != nil {
		rollback()
		return fmt.Errorf("can't check secret for %s: %w", key, err)
	}
	found, err := rows.Next()
	if cerr := rows.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return fmt.Errorf("can't check secret for %s: %w", key, err)
	}
	if !found {
		rollback()
		return ErrNotFound
	}

	if err := s.h.Exec("DELETE FROM kv_secrets WHERE skey = ?", dbi.TextValue(key)); err != nil {
		rollback()
		return fmt.Errorf("can't delete secret for %s: %w", key, err)
	}
	return s.h.Commit()
}

// List returns the stored keys matching the prefix, all of them for "" or
// "*".
func (s *Store) List(prefix string) ([]string, error) {
	var rows *dbi.Rows
	var err error

	if prefix == "" || prefix == "*" {
		rows, err = s.h.Query("SELECT skey FROM kv_secrets ORDER BY skey")
	} else {
		rows, err = s.h.Query("SELECT skey FROM kv_secrets WHERE skey LIKE ? ORDER BY skey",
			dbi.TextValue(prefix+"%"))
	}
	if err != nil {
		return nil, fmt.Errorf("can't list secrets: %w", err)
	}
	defer rows.Close() // nolint

	var keys []string
	for {
		ok, err := rows.Next()
		if err != nil {
			return nil, fmt.Errorf("can't fetch secret keys: %w", err)
		}
		if !ok {
			break
		}
		keys = append(keys, string(rows.Columns()[0].Data))
	}
	return keys, nil
}

// encrypt seals value with NaCl secretbox under a key derived from the store
// key and a fresh salt. Layout: nonce (24) | salt (16) | box.
func (s *Store) encrypt(value string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(s.key, salt))

	nonce := new([24]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	out := make([]byte, 24+16)
	copy(out, nonce[:])
	copy(out[24:], salt)
	return secretbox.Seal(out, []byte(value), nonce, naclKey), nil
}

func (s *Store) decrypt(sealed []byte) (string, error) {
	if len(sealed) < 24+16+secretbox.Overhead {
		return "", errors.New("sealed value too short")
	}

	nonce := new([24]byte)
	copy(nonce[:], sealed[:24])
	salt := sealed[24:40]

	naclKey := new([32]byte)
	copy(naclKey[:], deriveKey(s.key, salt))

	value, ok := secretbox.Open(nil, sealed[40:], nonce, naclKey)
	if !ok {
		return "", errors.New("failed to decrypt")
	}
	return string(value), nil
}

// deriveKey stretches the user key with argon2id.
func deriveKey(key, salt []byte) []byte {
	return argon2.IDKey(key, salt, 1, 64*1024, 4, 32)
}
