// Package credstore is the credential gateway: a Pebble-backed key-value
// store mapping username to bcrypt hash, shared between the server and the
// user-provisioning CLI. Cross-process access is serialized by an advisory
// lock file; the store is opened per operation while the lock is held, so
// neither process keeps the database pinned.
package credstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrStoreBusy means the lock file is present. The operation fails
	// fast; callers retry later.
	ErrStoreBusy = errors.New("credential store busy")
	// ErrNoSuchUser means the username has no stored hash.
	ErrNoSuchUser = errors.New("no such user")
	// ErrBadCredentials means the supplied password did not match.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrUserExists means the username is already provisioned.
	ErrUserExists = errors.New("user already exists")
)

const bcryptCost = 10

// Store holds the paths of the credential database and its lock file.
// The zero value is not usable; call New.
type Store struct {
	dbPath   string
	lockPath string
}

// New returns a store for the given database and lock file paths. Nothing
// is opened until an operation runs.
func New(dbPath, lockPath string) *Store {
	return &Store{dbPath: dbPath, lockPath: lockPath}
}

// Verify checks a username/password pair asynchronously. The returned
// channel yields exactly one result: nil on success, ErrBadCredentials or
// ErrNoSuchUser on mismatch, ErrStoreBusy when locked.
func (s *Store) Verify(username, password string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.verify(username, password) }()
	return ch
}

// ChangePassword verifies the current password and stores a new hash,
// asynchronously, under a single lock acquisition.
func (s *Store) ChangePassword(username, current, next string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.changePassword(username, current, next) }()
	return ch
}

// AddUser provisions a new user. Synchronous; used by the admin CLI.
func (s *Store) AddUser(username, password string) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	db, err := pebble.Open(s.dbPath, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer db.Close()

	_, closer, err := db.Get([]byte(username))
	if err == nil {
		closer.Close()
		return ErrUserExists
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("read credential store: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return err
	}
	if err := db.Set([]byte(username), hash, pebble.Sync); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	return nil
}

func (s *Store) verify(username, password string) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	db, err := pebble.Open(s.dbPath, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer db.Close()

	hash, err := s.getHash(db, username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

func (s *Store) changePassword(username, current, next string) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	db, err := pebble.Open(s.dbPath, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer db.Close()

	hash, err := s.getHash(db, username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(current)) != nil {
		return ErrBadCredentials
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcryptCost)
	if err != nil {
		return err
	}
	if err := db.Set([]byte(username), newHash, pebble.Sync); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	return nil
}

func (s *Store) getHash(db *pebble.DB, username string) ([]byte, error) {
	v, closer, err := db.Get([]byte(username))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNoSuchUser
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	hash := make([]byte, len(v))
	copy(hash, v)
	closer.Close()
	return hash, nil
}

// acquireLock creates the advisory lock file exclusively. A present lock
// file means another process is in the store; fail fast, do not queue.
// The lock is not crash-safe: a crash mid-operation leaves it behind and
// it must be removed manually.
func (s *Store) acquireLock() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrStoreBusy
		}
		return fmt.Errorf("create lock file: %w", err)
	}
	return f.Close()
}

func (s *Store) releaseLock() {
	os.Remove(s.lockPath)
}
