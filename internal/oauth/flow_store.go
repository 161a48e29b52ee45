package oauth

import (
	"sync"
	"time"
)

// PendingFlow tracks an authorization request between the redirect to the
// upstream identity provider and the upstream callback. It is keyed by the
// state value the provider sends upstream, never by anything the client
// chose.
type PendingFlow struct {
	// UpstreamState is the server-generated state for the upstream leg.
	UpstreamState string

	// ClientID is the registered client that initiated the flow.
	ClientID string

	// ClientState is the state the client supplied, echoed back on its
	// redirect URI untouched.
	ClientState string

	// ClientRedirectURI is where the client gets its authorization code.
	ClientRedirectURI string

	// RedirectURIExplicit records whether the client supplied the redirect
	// URI in the authorization request.
	RedirectURIExplicit bool

	// CodeChallenge is the client's PKCE challenge, carried through to the
	// minted authorization code.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string

	// Scopes requested by the client.
	Scopes []string

	// UpstreamVerifier is the PKCE verifier for the upstream leg. Held
	// server-side only.
	UpstreamVerifier string

	// UpstreamRedirectURI is the provider's callback endpoint registered
	// with the upstream identity provider.
	UpstreamRedirectURI string

	// CreatedAt is when the flow started, for expiry.
	CreatedAt time.Time
}

// FlowStore holds pending authorization flows in memory. Flows are short
// lived and bound to the replica that started them, so they never need to
// hit the database.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]*PendingFlow

	flowExpiry  time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewFlowStore creates a flow store and starts its cleanup loop.
func NewFlowStore() *FlowStore {
	fs := &FlowStore{
		flows:       make(map[string]*PendingFlow),
		flowExpiry:  10 * time.Minute,
		stopCleanup: make(chan struct{}),
	}

	go fs.cleanupLoop()

	return fs
}

// Put stores a pending flow keyed by its upstream state.
func (fs *FlowStore) Put(flow *PendingFlow) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.flows[flow.UpstreamState] = flow
}

// Consume fetches and deletes the flow for an upstream state. Returns nil
// for unknown or expired states; a state can only be consumed once.
func (fs *FlowStore) Consume(upstreamState string) *PendingFlow {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	flow, ok := fs.flows[upstreamState]
	if !ok {
		return nil
	}
	delete(fs.flows, upstreamState)

	if time.Since(flow.CreatedAt) > fs.flowExpiry {
		return nil
	}
	return flow
}

// Stop stops the background cleanup goroutine.
func (fs *FlowStore) Stop() {
	fs.stopOnce.Do(func() {
		close(fs.stopCleanup)
	})
}

func (fs *FlowStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fs.cleanup()
		case <-fs.stopCleanup:
			return
		}
	}
}

func (fs *FlowStore) cleanup() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for state, flow := range fs.flows {
		if time.Since(flow.CreatedAt) > fs.flowExpiry {
			delete(fs.flows, state)
		}
	}
}
