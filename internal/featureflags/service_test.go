package featureflags

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStore implements cache.RemoteStore over in-memory hashes.
type fakeStore struct {
	hashes map[string]map[string]string
	fail   bool
}

var errStoreDown = errors.New("store down")

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: make(map[string]map[string]string)}
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) (int, error) { return 0, nil }

func (f *fakeStore) Keys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

func (f *fakeStore) HSet(ctx context.Context, key, field, value string) error {
	if f.fail {
		return errStoreDown
	}
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if f.fail {
		return "", false, errStoreDown
	}
	v, ok := f.hashes[key][field]
	return v, ok, nil
}

func (f *fakeStore) HDel(ctx context.Context, key string, fields ...string) (int, error) {
	if f.fail {
		return 0, errStoreDown
	}
	n := 0
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.fail {
		return nil, errStoreDown
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func TestEnableDisableRoundTrip(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if svc.IsEnabled(ctx, "t1", "usage-caps") {
		t.Fatalf("unset flag must read disabled")
	}
	if err := svc.Enable(ctx, "t1", "usage-caps"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !svc.IsEnabled(ctx, "t1", "usage-caps") {
		t.Fatalf("expected flag enabled")
	}
	if err := svc.Disable(ctx, "t1", "usage-caps"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if svc.IsEnabled(ctx, "t1", "usage-caps") {
		t.Fatalf("expected flag disabled")
	}
}

func TestFlagsAreTenantScoped(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if err := svc.Enable(ctx, "t1", "beta-pricing"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if svc.IsEnabled(ctx, "t2", "beta-pricing") {
		t.Fatalf("another tenant's flag must not leak")
	}
}

func TestFlagNameIsCaseInsensitive(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if err := svc.Enable(ctx, "t1", "Beta-Pricing"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !svc.IsEnabled(ctx, "t1", "beta-pricing") {
		t.Fatalf("flag names must normalize to lowercase")
	}
}

func TestIsEnabled_FailsClosedOnStoreError(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.Enable(ctx, "t1", "beta-pricing"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	store.fail = true
	if svc.IsEnabled(ctx, "t1", "beta-pricing") {
		t.Fatalf("store failure must read as disabled")
	}
}

func TestAll_IncludesDisabledFlags(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if err := svc.Enable(ctx, "t1", "a"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := svc.Disable(ctx, "t1", "b"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	flags, err := svc.All(ctx, "t1")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(flags) != 2 || !flags["a"] || flags["b"] {
		t.Fatalf("unexpected flags: %v", flags)
	}
}

func TestRemove(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if err := svc.Enable(ctx, "t1", "a"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	removed, err := svc.Remove(ctx, "t1", "a")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	removed, err = svc.Remove(ctx, "t1", "a")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}

	flags, err := svc.All(ctx, "t1")
	if err != nil || len(flags) != 0 {
		t.Fatalf("expected empty flag set, got %v err=%v", flags, err)
	}
}

func TestValidation(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	if err := svc.Enable(ctx, "", "a"); !errors.Is(err, ErrInvalidFlag) {
		t.Fatalf("expected ErrInvalidFlag, got %v", err)
	}
	if err := svc.Enable(ctx, "t1", "  "); !errors.Is(err, ErrInvalidFlag) {
		t.Fatalf("expected ErrInvalidFlag, got %v", err)
	}
	if _, err := svc.All(ctx, ""); !errors.Is(err, ErrInvalidFlag) {
		t.Fatalf("expected ErrInvalidFlag, got %v", err)
	}
}
