// Package rights holds the persisted user table: name, credential digest and
// role. It is mutated only from the dispatcher goroutine; the store itself is
// not concurrency safe.
package rights

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

const (
	RightNone  = wire.RightNone
	RightAdmin = wire.RightAdmin
)

// DefaultAdminName is the bootstrap account created for an empty table.
const DefaultAdminName = "Admin"

// ComputeAuthID derives the opaque 16-byte credential digest from a username
// and password. Treated as a black-box primitive; its only contract is a
// stable 16-byte output.
func ComputeAuthID(name, password string) wire.AuthID {
	return wire.AuthID(md5.Sum([]byte(name + password)))
}

// User is one account record.
type User struct {
	Name   string
	AuthID wire.AuthID
	Right  byte
}

func (u *User) IsAdmin() bool { return u.Right == RightAdmin }

var ErrUserExists = errors.New("rights: user name already exists")

// Store is the user table plus its flat binary record file.
type Store struct {
	path  string
	users []*User
	log   *zap.Logger
}

// Load opens the table at path, creating the bootstrap admin when the file is
// missing or empty, or when forceDefaultAdmin resets the Admin account.
func Load(path string, forceDefaultAdmin bool) *Store {
	s := &Store{path: path, log: logger.L().Named("rights")}
	if err := s.load(); err != nil {
		s.log.Error("load user table", zap.String("path", path), zap.Error(err))
	}
	if forceDefaultAdmin {
		if old := s.ByName(DefaultAdminName); old != nil {
			s.remove(old.Name)
		}
		s.users = append(s.users, &User{
			Name:   DefaultAdminName,
			AuthID: ComputeAuthID(DefaultAdminName, ""),
			Right:  RightAdmin,
		})
		s.log.Warn("default admin account enabled")
	}
	if len(s.users) == 0 {
		s.users = append(s.users, &User{
			Name:   DefaultAdminName,
			AuthID: ComputeAuthID(DefaultAdminName, ""),
			Right:  RightAdmin,
		})
		s.log.Info("empty user table, bootstrapped default admin")
	}
	return s
}

// Add appends a new user and persists. Names are unique case-insensitively.
func (s *Store) Add(u *User) error {
	if s.Exists(u.Name) {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Name)
	}
	s.users = append(s.users, u)
	s.Save()
	return nil
}

// Remove deletes the named user and persists. Returns false when unknown.
func (s *Store) Remove(name string) bool {
	if !s.remove(name) {
		return false
	}
	s.Save()
	return true
}

func (s *Store) remove(name string) bool {
	for i, u := range s.users {
		if u.Name == name {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return true
		}
	}
	return false
}

// ByName looks up a user by exact name.
func (s *Store) ByName(name string) *User {
	for _, u := range s.users {
		if u.Name == name {
			return u
		}
	}
	return nil
}

// ByAuthID matches a login digest against the table.
func (s *Store) ByAuthID(id wire.AuthID) *User {
	for _, u := range s.users {
		if u.AuthID == id {
			return u
		}
	}
	return nil
}

// Exists reports whether the name is taken, ignoring case.
func (s *Store) Exists(name string) bool {
	for _, u := range s.users {
		if strings.EqualFold(u.Name, name) {
			return true
		}
	}
	return false
}

// Len returns the number of accounts.
func (s *Store) Len() int { return len(s.users) }

// Save writes the table. A failed write is logged and the in-memory state
// stays authoritative until the next successful save.
func (s *Store) Save() {
	f, err := os.Create(s.path)
	if err != nil {
		s.log.Error("save user table", zap.String("path", s.path), zap.Error(err))
		return
	}
	defer f.Close()
	if err := s.write(f); err != nil {
		s.log.Error("save user table", zap.String("path", s.path), zap.Error(err))
	}
}

// Record layout: 1 count byte, then per user 16 digest bytes, 1 right byte,
// 1 name-length byte and the name bytes.
func (s *Store) write(w io.Writer) error {
	if _, err := w.Write([]byte{byte(len(s.users))}); err != nil {
		return err
	}
	for _, u := range s.users {
		name := []byte(u.Name)
		if len(name) > 255 {
			name = name[:255]
		}
		if _, err := w.Write(u.AuthID[:]); err != nil {
			return err
		}
		if _, err := w.Write([]byte{u.Right, byte(len(name))}); err != nil {
			return err
		}
		if _, err := w.Write(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return s.read(f)
}

func (s *Store) read(r io.Reader) error {
	var count [1]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for i := 0; i < int(count[0]); i++ {
		u := &User{}
		if _, err := io.ReadFull(r, u.AuthID[:]); err != nil {
			return err
		}
		var meta [2]byte
		if _, err := io.ReadFull(r, meta[:]); err != nil {
			return err
		}
		u.Right = meta[0]
		name := make([]byte, meta[1])
		if _, err := io.ReadFull(r, name); err != nil {
			return err
		}
		u.Name = string(name)
		s.users = append(s.users, u)
	}
	return nil
}
