package outlet

import (
	"errors"
	"sync"
	"testing"
)

func TestGetOrCreateIdempotent(t *testing.T) {
	r := NewRegistry()

	a := r.GetOrCreate("dev-1")
	b := r.GetOrCreate("dev-1")
	if a != b {
		t.Error("two GetOrCreate calls for one id returned different instances")
	}

	c := r.GetOrCreate("dev-2")
	if c == a {
		t.Error("distinct ids share a State instance")
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()

	const goroutines = 32
	results := make([]*State, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("dev-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned different instances")
		}
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("dev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() before login = %v, want ErrNotFound", err)
	}

	created := r.GetOrCreate("dev-1")
	got, err := r.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != created {
		t.Error("Get returned a different instance than GetOrCreate")
	}
}

func TestResolveLogin(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{
			name:    "valid login",
			payload: loginFrame,
			wantErr: nil,
		},
		{
			name:    "not json",
			payload: `garbage`,
			wantErr: ErrBadLogin,
		},
		{
			name:    "missing id",
			payload: `{"account":"u@x.com"}`,
			wantErr: ErrBadLogin,
		},
		{
			name:    "empty id",
			payload: `{"account":"u@x.com","id":""}`,
			wantErr: ErrBadLogin,
		},
		{
			name:    "non-string id",
			payload: `{"account":"u@x.com","id":7}`,
			wantErr: ErrBadLogin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			s, err := r.ResolveLogin([]byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveLogin() error = %v, want %v", err, tt.wantErr)
				}
				if r.Count() != 0 {
					t.Error("failed resolve created a device state")
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveLogin() error = %v", err)
			}
			if s.ID() != "dev-1" {
				t.Errorf("resolved id = %q, want dev-1", s.ID())
			}
		})
	}
}

func TestResolveLoginMatchesGetOrCreate(t *testing.T) {
	r := NewRegistry()

	direct := r.GetOrCreate("dev-1")
	resolved, err := r.ResolveLogin([]byte(loginFrame))
	if err != nil {
		t.Fatalf("ResolveLogin() error = %v", err)
	}
	if resolved != direct {
		t.Error("ResolveLogin and GetOrCreate yielded different instances for one id")
	}
}

func TestOnCreateHook(t *testing.T) {
	r := NewRegistry()

	var created []string
	r.SetOnCreate(func(s *State) {
		created = append(created, s.ID())
	})

	r.GetOrCreate("dev-1")
	r.GetOrCreate("dev-1") // existing instance, hook must not re-fire
	r.GetOrCreate("dev-2")

	if len(created) != 2 || created[0] != "dev-1" || created[1] != "dev-2" {
		t.Errorf("hook fired for %v, want [dev-1 dev-2]", created)
	}
}

func TestSnapshots(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("dev-1")
	r.GetOrCreate("dev-2")

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	for _, snap := range snaps {
		if snap.Relay != RelayUnknown {
			t.Errorf("fresh device %s relay = %s, want unknown", snap.ID, snap.Relay)
		}
	}
}
