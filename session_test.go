package policyoverride

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ericselin/policy-override/store"
)

func TestRegistryOpenAndGet(t *testing.T) {
	r := NewRegistry(nil, []string{"camera"}, nil)

	id, m, err := r.Open("tab-1")
	if err != nil || id != "tab-1" {
		t.Fatalf("Opened %s (%v)", id, err)
	}
	if got, ok := r.Get("tab-1"); !ok || got != m {
		t.Fatal("Could not get opened session")
	}
	if _, again, _ := r.Open("tab-1"); again != m {
		t.Fatal("Opening twice created a new manager")
	}
	if f := m.SupportedFeatures(); len(f) != 1 || f[0] != "camera" {
		t.Fatalf("Supported features are %v", f)
	}
	if _, ok := r.Get("tab-2"); ok {
		t.Fatal("Got unknown session")
	}
}

func TestRegistryGeneratesIDs(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	a, _, _ := r.Open("")
	b, _, _ := r.Open("")
	if a == "" || b == "" || a == b {
		t.Fatalf("Generated ids %q and %q", a, b)
	}
	if ids := r.IDs(); len(ids) != 2 {
		t.Fatalf("Ids are %v", ids)
	}
}

func TestRegistrySavesOverrides(t *testing.T) {
	provider := store.NewMemStore()
	r := NewRegistry(provider, nil, nil)
	_, m, _ := r.Open("tab")
	m.CaptureOriginalPolicies(map[string]Policy{"camera": {Allowed: true}})
	m.TogglePolicy("camera")

	saved, _ := provider.Load("tab")
	if len(saved) != 1 || saved[0].Feature != "camera" || saved[0].Allowed {
		t.Fatalf("Saved overrides are %+v", saved)
	}

	// a new registry on the same store picks the overrides up again
	r2 := NewRegistry(provider, nil, nil)
	if err := r2.Resume(); err != nil {
		t.Fatalf("Could not resume: %v", err)
	}
	m2, ok := r2.Get("tab")
	if !ok {
		t.Fatal("Session not resumed")
	}
	if c := m2.CustomizedPolicies(); len(c) != 1 || c[0].AllowList[0] != "'none'" {
		t.Fatalf("Resumed overrides are %+v", c)
	}

	m.Restore()
	if saved, _ := provider.Load("tab"); len(saved) != 0 {
		t.Fatalf("Restore left %+v", saved)
	}
}

func TestRegistryClose(t *testing.T) {
	provider := store.NewMemStore()
	r := NewRegistry(provider, nil, nil)
	_, m, _ := r.Open("tab")
	m.SetCustomizedPolicies([]FeaturePolicy{{Feature: "usb"}})

	if err := r.Close("tab"); err != nil {
		t.Fatalf("Could not close: %v", err)
	}
	if _, ok := r.Get("tab"); ok {
		t.Fatal("Closed session still open")
	}
	if sessions, _ := provider.Sessions(); len(sessions) != 0 {
		t.Fatalf("Closed session still saved: %v", sessions)
	}
	if err := r.Close("tab"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Error is %v", err)
	}
}

// slowStore blocks the first save of a single override until released.
type slowStore struct {
	store.MemStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStore) Save(session string, overrides []store.Override) error {
	if len(overrides) == 1 {
		blocked := false
		s.once.Do(func() { blocked = true })
		if blocked {
			close(s.started)
			<-s.release
		}
	}
	return s.MemStore.Save(session, overrides)
}

func TestRegistrySavesLatestOverrides(t *testing.T) {
	provider := &slowStore{
		MemStore: store.NewMemStore(),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	r := NewRegistry(provider, nil, nil)
	_, m, _ := r.Open("tab")
	m.CaptureOriginalPolicies(map[string]Policy{"A": {Allowed: true}, "B": {Allowed: true}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.TogglePolicy("A")
	}()
	<-provider.started
	go func() {
		defer wg.Done()
		m.TogglePolicy("B")
	}()
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	if saved, _ := provider.Load("tab"); len(saved) != 2 {
		t.Fatalf("Saved overrides are %+v", saved)
	}
}
