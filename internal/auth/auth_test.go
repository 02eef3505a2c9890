package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/atmx/wager-engine/internal/auth"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestVerify_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	body := []byte(`{"price":"12.5"}`)
	ts := now.Unix()

	sig, err := auth.Sign(key, "POST", "/api/v1/tickets/3/listing", ts, "nonce-0001", body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := auth.NewVerifier(true, time.Minute, auth.WithNow(func() time.Time { return now }))
	req := auth.SignedRequest{
		Method:    "POST",
		Path:      "/api/v1/tickets/3/listing",
		Address:   addr.Hex(),
		Timestamp: strconv.FormatInt(ts, 10),
		Nonce:     "nonce-0001",
		Signature: sig,
		Body:      body,
	}
	got, err := v.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != addr {
		t.Errorf("caller = %s, want %s", got.Hex(), addr.Hex())
	}

	// The same request again is a replay.
	if _, err := v.Verify(context.Background(), req); !errors.Is(err, auth.ErrReplayed) {
		t.Fatalf("second verify: %v, want ErrReplayed", err)
	}
}

func TestVerify_NoncePerSigner(t *testing.T) {
	nonces := auth.NewMemoryNonces()
	v := auth.NewVerifier(true, time.Minute,
		auth.WithNow(func() time.Time { return now }), auth.WithNonces(nonces))
	ctx := context.Background()
	ts := now.Unix()

	for i := 0; i < 2; i++ {
		key, _ := crypto.GenerateKey()
		sig, _ := auth.Sign(key, "POST", "/p", ts, "shared-nonce", nil)
		_, err := v.Verify(ctx, auth.SignedRequest{
			Method: "POST", Path: "/p",
			Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
			Timestamp: strconv.FormatInt(ts, 10),
			Nonce:     "shared-nonce",
			Signature: sig,
		})
		if err != nil {
			t.Fatalf("signer %d: %v", i, err)
		}
	}
	if nonces.Len() != 2 {
		t.Errorf("remembered %d nonces, want 2", nonces.Len())
	}
}

func TestMemoryNonces_Expire(t *testing.T) {
	n := auth.NewMemoryNonces()
	ctx := context.Background()
	if ok, _ := n.Claim(ctx, "a", time.Millisecond); !ok {
		t.Fatal("first claim rejected")
	}
	if ok, _ := n.Claim(ctx, "a", time.Millisecond); ok {
		t.Fatal("second claim accepted")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := n.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("expired nonce still remembered")
	}
	if n.Len() != 1 {
		t.Errorf("len = %d, want 1", n.Len())
	}
}

func TestVerify_Rejections(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	body := []byte(`{}`)
	ts := now.Unix()
	const nonce = "nonce-rejections"
	sig, _ := auth.Sign(key, "POST", "/p", ts, nonce, body)
	otherSig, _ := auth.Sign(other, "POST", "/p", ts, nonce, body)
	v := auth.NewVerifier(true, time.Minute, auth.WithNow(func() time.Time { return now }))
	tsStr := strconv.FormatInt(ts, 10)

	cases := []struct {
		name                  string
		method, path, address string
		timestamp, nonce, sig string
		body                  []byte
		want                  error
	}{
		{"no address", "POST", "/p", "", tsStr, nonce, sig, body, auth.ErrMissingCredentials},
		{"bad address", "POST", "/p", "0x12", tsStr, nonce, sig, body, auth.ErrBadAddress},
		{"no signature", "POST", "/p", addr.Hex(), tsStr, nonce, "", body, auth.ErrMissingCredentials},
		{"no nonce", "POST", "/p", addr.Hex(), tsStr, "", sig, body, auth.ErrMissingCredentials},
		{"short nonce", "POST", "/p", addr.Hex(), tsStr, "abc", sig, body, auth.ErrBadNonce},
		{"bad timestamp", "POST", "/p", addr.Hex(), "soon", nonce, sig, body, auth.ErrBadTimestamp},
		{"stale", "POST", "/p", addr.Hex(), strconv.FormatInt(ts-120, 10), nonce, sig, body, auth.ErrStale},
		{"garbage signature", "POST", "/p", addr.Hex(), tsStr, nonce, "0xdead", body, auth.ErrBadSignature},
		{"other signer", "POST", "/p", addr.Hex(), tsStr, nonce, otherSig, body, auth.ErrSignerMismatch},
		{"tampered body", "POST", "/p", addr.Hex(), tsStr, nonce, sig, []byte(`{"x":1}`), auth.ErrSignerMismatch},
		{"other nonce", "POST", "/p", addr.Hex(), tsStr, "nonce-swapped", sig, body, auth.ErrSignerMismatch},
		{"other path", "POST", "/q", addr.Hex(), tsStr, nonce, sig, body, auth.ErrSignerMismatch},
		{"other method", "DELETE", "/p", addr.Hex(), tsStr, nonce, sig, body, auth.ErrSignerMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), auth.SignedRequest{
				Method:    tc.method,
				Path:      tc.path,
				Address:   tc.address,
				Timestamp: tc.timestamp,
				Nonce:     tc.nonce,
				Signature: tc.sig,
				Body:      tc.body,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVerify_DevModeTrustsAddress(t *testing.T) {
	v := auth.NewVerifier(false, 0)
	addr := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	got, err := v.Verify(context.Background(), auth.SignedRequest{Method: "POST", Path: "/p", Address: addr.Hex()})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != addr {
		t.Errorf("caller = %s", got.Hex())
	}
	zero := auth.SignedRequest{Method: "POST", Path: "/p", Address: "0x0000000000000000000000000000000000000000"}
	if _, err := v.Verify(context.Background(), zero); !errors.Is(err, auth.ErrBadAddress) {
		t.Errorf("zero address: %v", err)
	}
}

// echoCaller responds with the caller address and the body it received.
func echoCaller(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFrom(r.Context())
	body, _ := io.ReadAll(r.Body)
	json.NewEncoder(w).Encode(map[string]any{"caller": caller.Hex(), "ok": ok, "body": string(body)})
}

func TestAuthenticate_Middleware(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	v := auth.NewVerifier(true, time.Minute, auth.WithNow(func() time.Time { return now }))
	h := v.Authenticate(http.HandlerFunc(echoCaller))

	body := []byte(`{"amount":"5"}`)
	sig, _ := auth.Sign(key, "POST", "/api/v1/projects/0/tickets", now.Unix(), "mw-nonce-1", body)
	req := httptest.NewRequest("POST", "/api/v1/projects/0/tickets", bytes.NewReader(body))
	req.Header.Set(auth.HeaderAddress, addr.Hex())
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(auth.HeaderNonce, "mw-nonce-1")
	req.Header.Set(auth.HeaderSignature, sig)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Caller string `json:"caller"`
		OK     bool   `json:"ok"`
		Body   string `json:"body"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.OK || resp.Caller != addr.Hex() {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Body != string(body) {
		t.Errorf("body not restored: %q", resp.Body)
	}

	// Anonymous passes through.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/projects", nil))
	if w.Code != http.StatusOK || bytes.Contains(w.Body.Bytes(), []byte(`"ok":true`)) {
		t.Errorf("anonymous request: %d %s", w.Code, w.Body.String())
	}

	// Bad signature is rejected.
	req = httptest.NewRequest("POST", "/api/v1/projects/0/tickets", bytes.NewReader([]byte(`{"amount":"6"}`)))
	req.Header.Set(auth.HeaderAddress, addr.Hex())
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(auth.HeaderNonce, "mw-nonce-2")
	req.Header.Set(auth.HeaderSignature, sig)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("tampered request status = %d", w.Code)
	}
}

func TestRequireCaller(t *testing.T) {
	h := auth.RequireCaller(http.HandlerFunc(echoCaller))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), common.HexToAddress("0x01")))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", w.Code)
	}
}

func TestSessions_IssueAndParse(t *testing.T) {
	s, err := auth.NewSessions("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	addr := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	token, exp, err := s.Issue(addr)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("expiry %v not in the future", exp)
	}
	got, err := s.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != addr {
		t.Errorf("caller = %s", got.Hex())
	}

	other, _ := auth.NewSessions("ffffffffffffffffffffffffffffffff", time.Hour)
	if _, err := other.Parse(token); !errors.Is(err, auth.ErrInvalidSession) {
		t.Errorf("foreign token: %v", err)
	}
	if _, err := s.Parse("not.a.token"); !errors.Is(err, auth.ErrInvalidSession) {
		t.Errorf("garbage token: %v", err)
	}
	if _, err := auth.NewSessions("short", time.Hour); err == nil {
		t.Error("short secret accepted")
	}
}

func TestAuthenticate_BearerSession(t *testing.T) {
	s, _ := auth.NewSessions("0123456789abcdef0123456789abcdef", time.Hour)
	v := auth.NewVerifier(true, time.Minute, auth.WithSessions(s))
	h := v.Authenticate(auth.RequireCaller(http.HandlerFunc(echoCaller)))
	addr := common.HexToAddress("0x00000000000000000000000000000000000ca201")
	token, _, _ := s.Issue(addr)

	req := httptest.NewRequest("GET", "/api/v1/accounts/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(addr.Hex())) {
		t.Fatalf("bearer request: %d %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/accounts/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad bearer status = %d", w.Code)
	}
}

type failingNonces struct{}

func (failingNonces) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("nonce backend down")
}

func TestAuthenticate_NonceBackendDown(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	v := auth.NewVerifier(true, time.Minute,
		auth.WithNow(func() time.Time { return now }), auth.WithNonces(failingNonces{}))
	h := v.Authenticate(http.HandlerFunc(echoCaller))

	sig, _ := auth.Sign(key, "GET", "/api/v1/accounts/me", now.Unix(), "down-nonce", nil)
	req := httptest.NewRequest("GET", "/api/v1/accounts/me", nil)
	req.Header.Set(auth.HeaderAddress, addr.Hex())
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(auth.HeaderNonce, "down-nonce")
	req.Header.Set(auth.HeaderSignature, sig)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}
