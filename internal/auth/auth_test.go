package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/bardlex/gomp-relay/pkg/circuit"
	svcerrors "github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// fakeStore serves ids from a map or fails every call
type fakeStore struct {
	ids   map[string]uint64
	err   error
	keys  []string
	calls int
}

func (s *fakeStore) UserID(_ context.Context, key, user string) (uint64, error) {
	s.calls++
	s.keys = append(s.keys, key)
	if s.err != nil {
		return 0, s.err
	}
	return s.ids[user], nil
}

func TestCheckUserAuth(t *testing.T) {
	store := &fakeStore{ids: map[string]uint64{"alice": 7, "bob": 0}}
	a := NewAuthenticator(store, "", log.Discard())

	tests := []struct {
		name string
		user []byte
		want bool
	}{
		{"authorised", []byte("alice"), true},
		{"stored as zero", []byte("bob"), false},
		{"unknown", []byte("carol"), false},
		{"non-UTF-8", []byte{0xff, 0xfe}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.CheckUserAuth(context.Background(), tt.user, []byte("x")); got != tt.want {
				t.Errorf("CheckUserAuth(%q) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}

	if store.calls != 3 {
		t.Errorf("store called %d times, want 3 (non-UTF-8 must not reach Redis)", store.calls)
	}
	for _, k := range store.keys {
		if k != DefaultUsersKey {
			t.Errorf("looked up key %q, want %q", k, DefaultUsersKey)
		}
	}

	st := a.Stats()
	if st.Accepted != 1 || st.Rejected != 3 || st.Failures != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCheckUserAuth_CustomKey(t *testing.T) {
	store := &fakeStore{ids: map[string]uint64{"alice": 1}}
	a := NewAuthenticator(store, "Pool:Users", log.Discard())

	if !a.CheckUserAuth(context.Background(), []byte("alice"), nil) {
		t.Fatal("CheckUserAuth() = false")
	}
	if a.Key() != "Pool:Users" || store.keys[0] != "Pool:Users" {
		t.Errorf("key = %q / %q, want Pool:Users", a.Key(), store.keys[0])
	}
}

func TestCheckUserAuth_StoreErrorsDeny(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	a := NewAuthenticator(store, "", log.Discard())

	for _i := 0; _i < 10; _i++ {
		if a.CheckUserAuth(context.Background(), []byte("alice"), nil) {
			t.Fatal("CheckUserAuth() = true while the store fails")
		}
	}

	st := a.Stats()
	if st.Failures != 10 {
		t.Errorf("Failures = %d, want 10", st.Failures)
	}
	// the breaker opens after five failures and stops hammering the store
	if store.calls >= 10 {
		t.Errorf("store called %d times, want fewer once the breaker opened", store.calls)
	}
}

// entryStore fails lookups of malformed entries the way the Redis client does
type entryStore struct {
	ids       map[string]uint64
	malformed map[string]bool
}

func (s *entryStore) UserID(_ context.Context, _, user string) (uint64, error) {
	if s.malformed[user] {
		return 0, svcerrors.New(svcerrors.ErrorTypeValidation, "parse_user_id", "authorised user id is not an integer")
	}
	return s.ids[user], nil
}

func TestCheckUserAuth_MalformedEntryKeepsBreakerClosed(t *testing.T) {
	store := &entryStore{
		ids:       map[string]uint64{"good": 7},
		malformed: map[string]bool{"bad": true},
	}
	a := NewAuthenticator(store, "", log.Discard())

	for _i := 0; _i < 10; _i++ {
		if a.CheckUserAuth(context.Background(), []byte("bad"), nil) {
			t.Fatal("CheckUserAuth(bad) = true for a malformed entry")
		}
	}

	if !a.CheckUserAuth(context.Background(), []byte("good"), nil) {
		t.Fatalf("CheckUserAuth(good) = false, breaker = %s", a.Stats().Breaker.State)
	}

	st := a.Stats()
	if st.Breaker.State != circuit.StateClosed {
		t.Errorf("breaker state = %s, want closed", st.Breaker.State)
	}
	if st.Rejected != 10 || st.Accepted != 1 || st.Failures != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}
