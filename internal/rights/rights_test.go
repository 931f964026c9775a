package rights

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return Load(filepath.Join(t.TempDir(), "users.bin"), false)
}

func TestBootstrapAdmin(t *testing.T) {
	s := tempStore(t)
	admin := s.ByName(DefaultAdminName)
	if admin == nil {
		t.Fatal("missing bootstrap admin")
	}
	if !admin.IsAdmin() {
		t.Error("bootstrap admin lost its role")
	}
}

func TestAddRemoveLookup(t *testing.T) {
	s := tempStore(t)
	u := &User{Name: "Bryn", AuthID: ComputeAuthID("Bryn", "pw"), Right: RightNone}
	if err := s.Add(u); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(&User{Name: "bryn"}); !errors.Is(err, ErrUserExists) {
		t.Errorf("case-insensitive duplicate accepted: %v", err)
	}
	if s.ByName("bryn") != nil {
		t.Error("ByName must be exact-case")
	}
	if got := s.ByAuthID(ComputeAuthID("Bryn", "pw")); got != u {
		t.Errorf("ByAuthID = %v, want %v", got, u)
	}
	if s.ByAuthID(ComputeAuthID("Bryn", "wrong")) != nil {
		t.Error("wrong password digest matched")
	}
	if !s.Remove("Bryn") {
		t.Error("remove failed")
	}
	if s.Remove("Bryn") {
		t.Error("second remove should report unknown user")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.bin")
	s := Load(path, false)
	if err := s.Add(&User{Name: "Alva", AuthID: ComputeAuthID("Alva", "x"), Right: RightAdmin}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(&User{Name: "Bryn", AuthID: ComputeAuthID("Bryn", "y")}); err != nil {
		t.Fatal(err)
	}

	re := Load(path, false)
	if re.Len() != s.Len() {
		t.Fatalf("reloaded %d users, want %d", re.Len(), s.Len())
	}
	for _, name := range []string{DefaultAdminName, "Alva", "Bryn"} {
		orig, back := s.ByName(name), re.ByName(name)
		if back == nil {
			t.Fatalf("user %s missing after reload", name)
		}
		if back.AuthID != orig.AuthID || back.Right != orig.Right {
			t.Errorf("user %s changed across reload: %+v vs %+v", name, back, orig)
		}
	}
}

func TestDigestShape(t *testing.T) {
	a := ComputeAuthID("user", "pass")
	b := ComputeAuthID("user", "pass")
	if a != b {
		t.Fatal("digest must be deterministic")
	}
	if a == ComputeAuthID("user", "other") {
		t.Fatal("digest must depend on the password")
	}
	if bytes.Equal(a[:], make([]byte, 16)) {
		t.Fatal("digest is all zeroes")
	}
}
