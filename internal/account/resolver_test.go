package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/internal/directory"
	"go.uber.org/zap"
)

const (
	testUserUUID = "11111111-2222-4333-8444-555555555555"
	operatorsDN  = "cn=operators, ou=groups, o=smartdc"
)

// fakeDirectory serves canned entries and counts lookups.
type fakeDirectory struct {
	entries  map[string]*directory.Entry // dn -> entry
	operator map[string]bool             // user dn -> operator
	err      error
	lookups  int
}

func (f *fakeDirectory) Get(_ context.Context, dn string) (*directory.Entry, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[dn], nil
}

func (f *fakeDirectory) Search(_ context.Context, baseDN, filter string, _ directory.Scope) ([]directory.Entry, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if baseDN == operatorsDN {
		for dn, isOp := range f.operator {
			if isOp && filter == fmt.Sprintf("(uniquemember=%s)", dn) {
				return []directory.Entry{{DN: baseDN}}, nil
			}
		}
		return nil, nil
	}
	// Login search: scan entries for a matching login.
	for _, e := range f.entries {
		login := e.First("login")
		if login != "" && filter == fmt.Sprintf("(&(objectclass=sdcperson)(login=%s))", login) {
			return []directory.Entry{*e}, nil
		}
	}
	return nil, nil
}

func personEntry(uuid, login string) *directory.Entry {
	return &directory.Entry{
		DN: directory.UserDN(uuid),
		Attrs: map[string][]string{
			"objectclass": {"sdcperson"},
			"uuid":        {uuid},
			"login":       {login},
			"email":       {login + "@example.com"},
		},
	}
}

func newTestResolver(dir *fakeDirectory) *Resolver {
	c := cache.New("UserGet", 100, time.Minute, false)
	return NewResolver(dir, c, operatorsDN, zap.NewNop())
}

func TestValidLogin(t *testing.T) {
	tests := []struct {
		login string
		want  bool
	}{
		{"bob", true},
		{"b2", true},
		{"alice_smith", true},
		{"ops.team@corp", true},
		{"b", false},       // too short
		{"2bob", false},    // must start with a letter
		{"bo b", false},    // no spaces
		{"", false},
		{"-dash", false},
	}
	for _, tt := range tests {
		if got := ValidLogin(tt.login); got != tt.want {
			t.Errorf("ValidLogin(%q) = %v, want %v", tt.login, got, tt.want)
		}
	}
}

func TestResolve_ByUUID(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*directory.Entry{
		directory.UserDN(testUserUUID): personEntry(testUserUUID, "bob"),
	}}
	r := newTestResolver(dir)

	acct, err := r.Resolve(context.Background(), testUserUUID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct == nil || acct.Login != "bob" {
		t.Fatalf("Resolve = %+v, want login bob", acct)
	}
}

func TestResolve_ByLogin(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*directory.Entry{
		directory.UserDN(testUserUUID): personEntry(testUserUUID, "bob"),
	}}
	r := newTestResolver(dir)

	acct, err := r.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if acct == nil || acct.UUID != testUserUUID {
		t.Fatalf("Resolve = %+v, want uuid %s", acct, testUserUUID)
	}
}

func TestResolve_PopulatesBothCacheKeys(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*directory.Entry{
		directory.UserDN(testUserUUID): personEntry(testUserUUID, "bob"),
	}}
	r := newTestResolver(dir)

	if _, err := r.Resolve(context.Background(), "bob"); err != nil {
		t.Fatalf("Resolve by login: %v", err)
	}
	before := dir.lookups

	// The uuid key must now hit the cache too.
	if _, err := r.Resolve(context.Background(), testUserUUID); err != nil {
		t.Fatalf("Resolve by uuid: %v", err)
	}
	if dir.lookups != before {
		t.Errorf("lookup count grew from %d to %d; expected a cache hit", before, dir.lookups)
	}
}

func TestResolve_InvalidInputRejectedWithoutLookup(t *testing.T) {
	dir := &fakeDirectory{}
	r := newTestResolver(dir)

	acct, err := r.Resolve(context.Background(), "!!bad!!")
	if err != nil || acct != nil {
		t.Fatalf("Resolve = (%v, %v), want (nil, nil)", acct, err)
	}
	if dir.lookups != 0 {
		t.Errorf("lookups = %d, want 0 for syntactically invalid input", dir.lookups)
	}
}

func TestResolve_NegativeResultCached(t *testing.T) {
	dir := &fakeDirectory{entries: map[string]*directory.Entry{}}
	r := newTestResolver(dir)

	for i := 0; i < 3; i++ {
		acct, err := r.Resolve(context.Background(), "ghost")
		if err != nil || acct != nil {
			t.Fatalf("Resolve = (%v, %v), want (nil, nil)", acct, err)
		}
	}
	if dir.lookups != 1 {
		t.Errorf("lookups = %d, want 1 (negative result must be cached)", dir.lookups)
	}
}

func TestResolve_ErrorCached(t *testing.T) {
	dir := &fakeDirectory{err: fmt.Errorf("directory down")}
	r := newTestResolver(dir)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), testUserUUID); err == nil {
			t.Fatal("expected error")
		}
	}
	if dir.lookups != 1 {
		t.Errorf("lookups = %d, want 1 (errors must be cached against stampedes)", dir.lookups)
	}
}

func TestResolve_OperatorFlag(t *testing.T) {
	dir := &fakeDirectory{
		entries: map[string]*directory.Entry{
			directory.UserDN(testUserUUID): personEntry(testUserUUID, "ops"),
		},
		operator: map[string]bool{directory.UserDN(testUserUUID): true},
	}
	r := newTestResolver(dir)

	acct, err := r.Resolve(context.Background(), testUserUUID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !acct.Operator {
		t.Error("expected operator flag from group membership")
	}
}
