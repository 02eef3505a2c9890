package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxSignedBody bounds how much of a request body is buffered for hashing.
const maxSignedBody = 1 << 20

// Authenticate attaches the caller to the request context when credentials
// are present. Requests without credentials pass through anonymously; bad
// credentials are rejected with 401.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bearer, ok := bearerToken(r); ok && v.sessions != nil {
			caller, err := v.sessions.Parse(bearer)
			if err != nil {
				unauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		address := r.Header.Get(HeaderAddress)
		if address == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			unauthorized(w, err)
			return
		}
		if len(body) > maxSignedBody {
			writeJSON(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		caller, err := v.Verify(r.Context(), SignedRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			Address:   address,
			Timestamp: r.Header.Get(HeaderTimestamp),
			Nonce:     r.Header.Get(HeaderNonce),
			Signature: r.Header.Get(HeaderSignature),
			Body:      body,
		})
		if err != nil {
			if !isCredentialError(err) {
				slog.Error("request authentication errored", "path", r.URL.Path, "err", err)
				writeJSON(w, http.StatusServiceUnavailable, "auth_unavailable", "authentication backend unavailable")
				return
			}
			slog.Debug("request authentication failed", "path", r.URL.Path, "err", err)
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireCaller rejects requests that Authenticate left anonymous.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			unauthorized(w, ErrMissingCredentials)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isCredentialError(err error) bool {
	for _, target := range []error{
		ErrMissingCredentials, ErrBadAddress, ErrBadTimestamp, ErrBadNonce,
		ErrReplayed, ErrStale, ErrBadSignature, ErrSignerMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), true
	}
	return "", false
}

func unauthorized(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, "unauthenticated", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
