package token

import (
	"crypto/rand"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/chargekeep/chargekeep/internal/atomicfile"
)

// Store persists the Session with atomic replace-on-write. With a passphrase
// configured, the record is sealed with a scrypt-derived secretbox key so
// refresh tokens do not sit on disk in plaintext.
type Store struct {
	path       string
	passphrase string
}

func NewStore(path, passphrase string) *Store {
	return &Store{path: path, passphrase: passphrase}
}

// envelope is the on-disk format.
type envelope struct {
	Encrypted bool   `json:"encrypted"`
	Salt      []byte `json:"salt,omitempty"`
	Nonce     []byte `json:"nonce,omitempty"`
	Data      []byte `json:"data"`
}

// Save writes the session. The on-disk copy always reflects the last
// successfully obtained in-memory session.
func (s *Store) Save(sess *Session) error {
	plain, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] marshal session")
	}

	env := envelope{Data: plain}
	if s.passphrase != "" {
		sealed, salt, nonce, err := seal(plain, s.passphrase)
		if err != nil {
			return err
		}
		env = envelope{Encrypted: true, Salt: salt, Nonce: nonce, Data: sealed}
	}
	return atomicfile.WriteJSON(s.path, env)
}

// Load reads the persisted session. Returns (nil, nil) when no session has
// been stored yet.
func (s *Store) Load() (*Session, error) {
	var env envelope
	if err := atomicfile.ReadJSON(s.path, &env); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "[Store.Load] read")
	}

	plain := env.Data
	if env.Encrypted {
		if s.passphrase == "" {
			return nil, errors.New("[Store.Load] session is encrypted but no passphrase is configured")
		}
		var err error
		plain, err = unseal(env, s.passphrase)
		if err != nil {
			return nil, err
		}
	}

	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil {
		return nil, errors.Wrap(err, "[Store.Load] unmarshal session")
	}
	return &sess, nil
}

// Clear removes the persisted session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "[Store.Clear] remove")
	}
	return nil
}

func deriveKey(passphrase string, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, errors.Wrap(err, "[token.deriveKey] scrypt")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

func seal(plain []byte, passphrase string) (sealed, salt, nonce []byte, err error) {
	salt = make([]byte, 16)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, errors.Wrap(err, "[token.seal] salt")
	}
	var n [24]byte
	if _, err = rand.Read(n[:]); err != nil {
		return nil, nil, nil, errors.Wrap(err, "[token.seal] nonce")
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed = secretbox.Seal(nil, plain, &n, key)
	return sealed, salt, n[:], nil
}

func unseal(env envelope, passphrase string) ([]byte, error) {
	key, err := deriveKey(passphrase, env.Salt)
	if err != nil {
		return nil, err
	}
	var n [24]byte
	copy(n[:], env.Nonce)
	plain, ok := secretbox.Open(nil, env.Data, &n, key)
	if !ok {
		return nil, errors.New("[token.unseal] session cannot be decrypted with the configured passphrase")
	}
	return plain, nil
}
