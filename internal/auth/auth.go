// Package auth establishes who is calling. Requests are signed with an
// EIP-191 personal-message signature over the method, path, timestamp,
// nonce and body hash; the recovered signer is the caller. Each nonce is
// accepted once per signer. A verified caller may exchange a signed request
// for a short-lived session token.
package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Request headers carrying the caller's claimed identity and proof.
const (
	HeaderAddress   = "X-Wager-Address"
	HeaderTimestamp = "X-Wager-Timestamp"
	HeaderNonce     = "X-Wager-Nonce"
	HeaderSignature = "X-Wager-Signature"
)

// Nonce length bounds, in bytes.
const (
	minNonceLen = 8
	maxNonceLen = 128
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrBadAddress         = errors.New("auth: malformed address")
	ErrBadTimestamp       = errors.New("auth: malformed timestamp")
	ErrBadNonce           = errors.New("auth: malformed nonce")
	ErrReplayed           = errors.New("auth: nonce already used")
	ErrStale              = errors.New("auth: timestamp outside allowed skew")
	ErrBadSignature       = errors.New("auth: invalid signature")
	ErrSignerMismatch     = errors.New("auth: signature does not match address")
)

// Message builds the text a client signs for a request.
func Message(method, path string, ts int64, nonce string, body []byte) []byte {
	bodyHash := crypto.Keccak256Hash(body)
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" + strconv.FormatInt(ts, 10) + "\n" +
		nonce + "\n" + bodyHash.Hex())
}

// Sign produces the hex signature header value for a request. Used by
// clients and tests.
func Sign(key *ecdsa.PrivateKey, method, path string, ts int64, nonce string, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(Message(method, path, ts, nonce, body)), key)
	if err != nil {
		return "", err
	}
	// Wallets emit v as 27/28.
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover returns the address that signed msg as an EIP-191 personal
// message. v may be 0/1 or 27/28.
func Recover(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrBadAddress)
	}
	return addr, nil
}

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// Verifier checks request signatures.
type Verifier struct {
	requireSignature bool
	maxSkew          time.Duration
	now              func() time.Time
	sessions         *Sessions
	nonces           NonceStore
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithNow overrides the clock used for skew checks.
func WithNow(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithNonces sets where used nonces are recorded. The default is a
// process-local MemoryNonces.
func WithNonces(n NonceStore) VerifierOption {
	return func(v *Verifier) { v.nonces = n }
}

// WithSessions lets the verifier accept bearer session tokens.
func WithSessions(s *Sessions) VerifierOption {
	return func(v *Verifier) { v.sessions = s }
}

// NewVerifier creates a verifier. With requireSignature false the address
// header is trusted as is; use that only in development.
func NewVerifier(requireSignature bool, maxSkew time.Duration, opts ...VerifierOption) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	v := &Verifier{
		requireSignature: requireSignature,
		maxSkew:          maxSkew,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.nonces == nil {
		v.nonces = NewMemoryNonces()
	}
	return v
}

// SignedRequest is the credential material carried by a signed request.
type SignedRequest struct {
	Method    string
	Path      string
	Address   string
	Timestamp string
	Nonce     string
	Signature string
	Body      []byte
}

// Verify checks a signed request and consumes its nonce. A request is
// accepted at most once.
func (v *Verifier) Verify(ctx context.Context, req SignedRequest) (common.Address, error) {
	if req.Address == "" {
		return common.Address{}, ErrMissingCredentials
	}
	claimed, err := ParseAddress(req.Address)
	if err != nil {
		return common.Address{}, err
	}
	if !v.requireSignature {
		return claimed, nil
	}
	if req.Timestamp == "" || req.Nonce == "" || req.Signature == "" {
		return common.Address{}, ErrMissingCredentials
	}
	if n := len(req.Nonce); n < minNonceLen || n > maxNonceLen || strings.ContainsAny(req.Nonce, "\n\r") {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadNonce, n)
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadTimestamp, req.Timestamp)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return common.Address{}, fmt.Errorf("%w: %s", ErrStale, skew.Round(time.Second))
	}

	signer, err := Recover(Message(req.Method, req.Path, ts, req.Nonce, req.Body), req.Signature)
	if err != nil {
		return common.Address{}, err
	}
	if signer != claimed {
		return common.Address{}, fmt.Errorf("%w: signed by %s", ErrSignerMismatch, signer.Hex())
	}

	// A timestamp stays acceptable for maxSkew on either side of now.
	fresh, err := v.nonces.Claim(ctx, signer.Hex()+":"+req.Nonce, 2*v.maxSkew)
	if err != nil {
		return common.Address{}, err
	}
	if !fresh {
		return common.Address{}, fmt.Errorf("%w: %s", ErrReplayed, req.Nonce)
	}
	return signer, nil
}
