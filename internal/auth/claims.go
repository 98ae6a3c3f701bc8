package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Tier mirrors the user directory's authorization tier at issuance time;
// the orchestrator re-checks the directory for call initiation, so a stale
// tier in a token cannot widen call permissions.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}
