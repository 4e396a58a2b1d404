package core

import "time"

// ConnectionKind tells how an identity session was established
type ConnectionKind string

const (
	ConnectionWallet  ConnectionKind = "wallet"
	ConnectionZkLogin ConnectionKind = "zkLogin"
)

// Valid reports whether k is one of the known connection kinds
func (k ConnectionKind) Valid() bool {
	switch k {
	case ConnectionWallet, ConnectionZkLogin:
		return true
	default:
		return false
	}
}

// IdentitySession represents a logged-in user, independent of how they signed in
type IdentitySession struct {
	Address        string         `json:"address"`
	ConnectionKind ConnectionKind `json:"connectionKind"`
	DisplayName    string         `json:"displayName,omitempty"`
	Email          string         `json:"email,omitempty"`
	AvatarRef      string         `json:"avatarRef,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastLoginAt    time.Time      `json:"lastLoginAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

func (s *IdentitySession) Expiry() time.Time { return s.ExpiresAt }
func (s *IdentitySession) SetExpiry(t time.Time) { s.ExpiresAt = t }

// EphemeralKeySession holds everything needed to sign as a zkLogin address.
// It is valid only while the chain epoch is below MaxEpoch and the wall clock
// has not passed ExpiresAt (plus grace).
type EphemeralKeySession struct {
	JWT                  string    `json:"jwt"`
	UserSalt             string    `json:"userSalt"`
	Address              string    `json:"address"`
	Nonce                string    `json:"nonce"`
	MaxEpoch             uint64    `json:"maxEpoch"`
	Randomness           string    `json:"randomness"`
	EphemeralKeyMaterial string    `json:"ephemeralKeyMaterial"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

func (s *EphemeralKeySession) Expiry() time.Time { return s.ExpiresAt }
func (s *EphemeralKeySession) SetExpiry(t time.Time) { s.ExpiresAt = t }

// SessionInfo is a read-only snapshot of the identity session state
type SessionInfo struct {
	IsAuthenticated bool          `json:"isAuthenticated"`
	ExpiresAt       time.Time     `json:"expiresAt,omitempty"`
	NeedsRefresh    bool          `json:"needsRefresh"`
	TimeUntilExpiry time.Duration `json:"timeUntilExpiry"`
}

// SessionWarning is emitted when the session is about to expire
type SessionWarning struct {
	TimeUntilExpiry time.Duration `json:"timeUntilExpiry"`
	Minutes         int           `json:"minutes"`
}

// ForceLogout is emitted when all session state has been torn down
type ForceLogout struct {
	Reason string `json:"reason,omitempty"`
}

// Validation is the outcome of a signing pre-flight check
type Validation struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}
