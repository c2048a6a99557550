// Package session implements the authentication session lifecycle for the
// Softcodes backend: PKCE flow initiation, callback handling and token
// exchange, silent refresh, session validation, and sign-out. The manager is
// the sole owner of all persisted token state; every other component obtains
// tokens through it.
package session

import "time"

// Endpoint paths of the backend wire contract, relative to the backend base URL.
const (
	initiatePath = "/api/auth/initiate-vscode-auth"
	exchangePath = "/api/extension/auth/callback"
	refreshPath  = "/api/auth/refresh-token"
	validatePath = "/api/auth/validate-session"
	userInfoPath = "/api/auth/user-info"
	signOutPath  = "/api/auth/sign-out"
)

// clientType identifies this client on the shared backend endpoints that also
// serve the web application.
const clientType = "vscode"

// Durable store keys owned by the session manager.
const (
	keyAccessToken    = "access_token"
	keyRefreshToken   = "refresh_token"
	keySessionID      = "session_id"
	keyOrganizationID = "organization_id"

	// pendingKeyPrefix namespaces the per-flow PKCE entries, one per in-flight
	// authentication attempt, keyed by state.
	pendingKeyPrefix = "pkce_"
)

// credentialKeys lists every scalar credential entry, in deletion order.
var credentialKeys = []string{keyAccessToken, keyRefreshToken, keySessionID, keyOrganizationID}

// pendingTTL bounds how long an abandoned pending authentication entry
// survives before the next Authenticate call sweeps it.
const pendingTTL = 10 * time.Minute

// Credentials is the persisted token set. AccessToken and RefreshToken are
// always written together; SessionID and OrganizationID are written only when
// present so a refresh response that omits them leaves the stored values
// untouched. An empty OrganizationID means a personal account.
type Credentials struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	SessionID      string `json:"session_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// UserInfo describes the authenticated user as reported by the backend. It is
// fetched on demand and never persisted.
type UserInfo struct {
	Email            string `json:"email"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
	OrganizationID   string `json:"organizationId,omitempty"`
}
