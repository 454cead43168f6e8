package auth

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrInvalidRole  = errors.New("auth: invalid role")
)

// writeError maps an auth failure to its HTTP response. Role failures are 403,
// everything else about the caller's credentials is 401.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
