package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// QuotaLedger records token requests per credential key.
type QuotaLedger interface {
	// Record counts one token request made at the given time.
	Record(ctx context.Context, key string, at time.Time) error
	// Since returns the request times strictly after since, oldest first.
	Since(ctx context.Context, key string, since time.Time) ([]time.Time, error)
}

// MemoryLedger is a process-local QuotaLedger. A restart starts a fresh window.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryLedger creates a new MemoryLedger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string][]time.Time),
	}
}

// Record appends a request time for key
func (l *MemoryLedger) Record(_ context.Context, key string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = append(l.entries[key], at)
	sort.Slice(l.entries[key], func(i, j int) bool { return l.entries[key][i].Before(l.entries[key][j]) })
	return nil
}

// Since returns request times after since and drops the rest.
func (l *MemoryLedger) Since(_ context.Context, key string, since time.Time) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stamps := l.entries[key]
	i := sort.Search(len(stamps), func(i int) bool { return stamps[i].After(since) })
	kept := append([]time.Time(nil), stamps[i:]...)
	if len(kept) == 0 {
		delete(l.entries, key)
	} else {
		l.entries[key] = kept
	}
	return append([]time.Time(nil), kept...), nil
}

// PendingAuthorization is a device authorization waiting for a user.
type PendingAuthorization struct {
	CredentialKey string              `json:"credential_key"`
	ClientID      string              `json:"client_id"`
	Region        string              `json:"region"`
	Authorization DeviceAuthorization `json:"authorization"`
}

// pendingRegistry tracks the authorizations currently awaiting users.
type pendingRegistry struct {
	mu      sync.Mutex
	pending map[string]PendingAuthorization
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{
		pending: make(map[string]PendingAuthorization),
	}
}

func (r *pendingRegistry) set(creds CredentialSet, da DeviceAuthorization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[creds.Key()] = PendingAuthorization{
		CredentialKey: creds.Key(),
		ClientID:      creds.ClientID,
		Region:        creds.Region,
		Authorization: da,
	}
}

func (r *pendingRegistry) get(key string) (PendingAuthorization, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[key]
	return p, ok
}

func (r *pendingRegistry) clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
}

// clearIf removes the entry for key only if it still belongs to deviceCode,
// so a finished flow cannot erase the prompt of a newer one.
func (r *pendingRegistry) clearIf(key, deviceCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[key]; ok && p.Authorization.DeviceCode == deviceCode {
		delete(r.pending, key)
	}
}

func (r *pendingRegistry) list() []PendingAuthorization {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingAuthorization, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialKey < out[j].CredentialKey })
	return out
}
