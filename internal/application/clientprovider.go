package application

import (
	"errors"
	"sync"

	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// ErrNoClient is returned by services when no upstream client is configured.
// The dashboard starts without one until upstream settings are provided.
var ErrNoClient = errors.New("upstream not configured: set the admin API URL and token")

// KiroClientProvider enables runtime hot-swap of the upstream client.
// It holds a mutex-protected reference to the current driven.KiroClient,
// allowing settings changes to take effect without restarting the application.
type KiroClientProvider struct {
	mu     sync.RWMutex
	client driven.KiroClient
}

// NewKiroClientProvider creates a new provider with the given initial client.
// client may be nil if no upstream settings are available at startup.
func NewKiroClientProvider(client driven.KiroClient) *KiroClientProvider {
	return &KiroClientProvider{client: client}
}

// Get returns the current upstream client. Callers should check for nil
// if the provider was created without initial settings.
func (p *KiroClientProvider) Get() driven.KiroClient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Replace swaps the current client with a new one. This is used when upstream
// settings are updated via the GUI. The next caller of Get() receives the new
// client.
func (p *KiroClientProvider) Replace(client driven.KiroClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
}

// HasClient returns true if a non-nil client is currently held.
func (p *KiroClientProvider) HasClient() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}
