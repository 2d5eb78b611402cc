package session

import "sync"

// IdentityInfo is a copy of the session identity.
type IdentityInfo struct {
	Name      string
	BoardSize int
	LoggedIn  bool
	// Recovering is set while the server still has to replay session state,
	// either after a relogin or during a recovery sequence.
	Recovering bool
	Address    string
}

// Identity is shared by the login path, the recovery path and the
// application. One mutex serializes every access.
type Identity struct {
	mu   sync.Mutex
	info IdentityInfo
}

func newIdentity(name, address string) *Identity {
	return &Identity{info: IdentityInfo{Name: name, Address: address}}
}

// Info returns a snapshot.
func (id *Identity) Info() IdentityInfo {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.info
}

// Name returns the player name used for login and relogin.
func (id *Identity) Name() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.info.Name
}

func (id *Identity) loggedIn(boardSize int, recovering bool) {
	id.mu.Lock()
	id.info.LoggedIn = true
	id.info.BoardSize = boardSize
	if recovering {
		id.info.Recovering = true
	}
	id.mu.Unlock()
}

func (id *Identity) setRecovering(v bool) {
	id.mu.Lock()
	id.info.Recovering = v
	id.mu.Unlock()
}
