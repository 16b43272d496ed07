// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// proofClaims is the RFC 9449 proof payload.
type proofClaims struct {
	JTI   string `json:"jti"`
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	IAT   int64  `json:"iat"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

// SignatureProvider produces DPoP proof JWTs bound to a stable private key
// loaded from (or lazily created in) a StoreManager.  The algorithm is
// negotiated against the authorization server's advertised list before the
// provider is constructed; key generation may further fall back from EdDSA
// to an ECDSA algorithm when the signing engine rejects EdDSA.
type SignatureProvider struct {
	store           *StoreManager
	serverSupported []string
	requested       Alg

	mu  sync.Mutex
	alg Alg
	key crypto.Signer

	// resourceNonces maps a resource-server origin to its current nonce.
	// Held only in memory: these values come from arbitrary origins and
	// are not worth persisting.
	resourceNonces map[string]string

	genKey keyGenerator
	logger hclog.Logger

	// now is overwritten in tests
	now func() time.Time
}

// NewSignatureProvider creates a provider using the given store.  The
// requested algorithm (WithAlg, default DefaultAlg) must appear in
// serverSupportedAlgs or construction fails with ErrUnsupportedAlgorithm.
//
// Supported options: WithAlg, WithLogger.
func NewSignatureProvider(store *StoreManager, serverSupportedAlgs []string, opt ...Option) (*SignatureProvider, error) {
	const op = "dpop.NewSignatureProvider"
	if store == nil {
		return nil, fmt.Errorf("%s: store manager is nil: %w", op, ErrNilParameter)
	}
	opts := getProviderOpts(opt...)
	alg, err := NegotiateAlgorithm(opts.withAlg, serverSupportedAlgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SignatureProvider{
		store:           store,
		serverSupported: serverSupportedAlgs,
		requested:       alg,
		alg:             alg,
		resourceNonces:  make(map[string]string),
		genKey:          generateKey,
		logger:          opts.withLogger.Named("dpop"),
		now:             time.Now,
	}, nil
}

// Init loads the persisted key pair, generating and persisting a new one if
// none exists for the (issuer, clientId) pair.  It must be called before
// GenerateProof.  Repeated calls while a key persists never generate a
// second key pair.
func (p *SignatureProvider) Init(ctx context.Context) error {
	const op = "SignatureProvider.Init"
	if err := p.store.Init(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key != nil {
		return nil
	}
	state, err := p.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if state != nil && len(state.PrivateKeyDER) > 0 {
		key, err := unmarshalKey(state.PrivateKeyDER)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		p.key = key
		p.alg = state.Alg
		return nil
	}

	alg, key, err := p.generateWithFallback()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	der, err := marshalKey(key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	next := &State{Alg: alg, PrivateKeyDER: der}
	if state != nil {
		next.AuthServerNonce = state.AuthServerNonce
	}
	if err := p.store.Set(ctx, next); err != nil {
		return fmt.Errorf("%s: unable to persist key pair: %w", op, err)
	}
	p.key = key
	p.alg = alg
	return nil
}

// generateWithFallback attempts key generation with the negotiated
// algorithm.  If the signing engine rejects EdDSA, each server-supported
// ECDSA algorithm is tried in order and the first success becomes the new
// active algorithm.  ECDSA failures propagate: those algorithms are assumed
// universally available, so a failure there indicates a broken engine.
func (p *SignatureProvider) generateWithFallback() (Alg, crypto.Signer, error) {
	const op = "SignatureProvider.generateWithFallback"
	key, err := p.genKey(p.alg)
	if err == nil {
		return p.alg, key, nil
	}
	candidates := fallbackFor(p.alg, p.serverSupported)
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("%s: %v: %w", op, err, ErrKeyGenerationFailed)
	}
	p.logger.Warn("signing engine rejected algorithm, falling back", "alg", p.alg, "error", err)
	for _, alg := range candidates {
		key, ferr := p.genKey(alg)
		if ferr != nil {
			return "", nil, fmt.Errorf("%s: fallback to %s failed: %v: %w", op, alg, ferr, ErrKeyGenerationFailed)
		}
		return alg, key, nil
	}
	return "", nil, fmt.Errorf("%s: no usable algorithm: %w", op, ErrKeyGenerationFailed)
}

// Alg returns the active proof algorithm.  Before Init this is the
// negotiated algorithm; Init may change it if key generation fell back.
func (p *SignatureProvider) Alg() Alg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alg
}

// GenerateProof builds a compact proof JWT for the given HTTP method and
// URL.  The htu claim carries the URL stripped to origin and path: query
// and fragment are excluded per RFC 9449.  Use WithAccessToken to add the
// ath claim and WithProofNonce to echo a server nonce.
//
// Fails with ErrNotInitialized when called before Init.
func (p *SignatureProvider) GenerateProof(rawURL, httpMethod string, opt ...Option) (string, error) {
	const op = "SignatureProvider.GenerateProof"
	opts := getProofOpts(opt...)

	p.mu.Lock()
	key, alg := p.key, p.alg
	p.mu.Unlock()
	if key == nil {
		return "", fmt.Errorf("%s: no key pair, call Init first: %w", op, ErrNotInitialized)
	}
	if httpMethod == "" {
		return "", fmt.Errorf("%s: http method is empty: %w", op, ErrInvalidParameter)
	}
	htu, err := normalizeHTU(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate jti: %w", op, err)
	}

	claims := proofClaims{
		JTI: jti,
		HTM: httpMethod,
		HTU: htu,
		IAT: p.now().Unix(),
	}
	if opts.withAccessToken != "" {
		sum := sha256.Sum256([]byte(opts.withAccessToken))
		claims.ATH = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if opts.withProofNonce != "" {
		claims.Nonce = opts.withProofNonce
	}

	signerOpts := (&jose.SignerOptions{}).
		WithType("dpop+jwt").
		WithHeader("jwk", publicJWK(key, alg))
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", op, err, ErrProofGenerationFailed)
	}
	return proof, nil
}

// AuthServerNonce returns the persisted authorization-server nonce, or the
// empty string if none has been recorded.
func (p *SignatureProvider) AuthServerNonce(ctx context.Context) (string, error) {
	const op = "SignatureProvider.AuthServerNonce"
	state, err := p.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if state == nil {
		return "", nil
	}
	return state.AuthServerNonce, nil
}

// UpdateAuthServerNonce records the nonce from a DPoP-Nonce response header
// issued by the authorization server.  Invalid nonces fail loudly: this is
// the strict validation path.
func (p *SignatureProvider) UpdateAuthServerNonce(ctx context.Context, nonce string) error {
	const op = "SignatureProvider.UpdateAuthServerNonce"
	if err := p.store.UpdateAuthServerNonce(ctx, nonce); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResourceServerNonce returns the in-memory nonce for the given
// resource-server origin, or the empty string.
func (p *SignatureProvider) ResourceServerNonce(origin string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resourceNonces[origin]
}

// UpdateResourceServerNonce records a nonce from a resource server.  This
// is the lenient path: these values originate from arbitrary origins, so an
// invalid nonce is dropped without error rather than being allowed to
// destabilize the client.
func (p *SignatureProvider) UpdateResourceServerNonce(origin, nonce string) {
	if origin == "" {
		return
	}
	if err := validateNonce(nonce); err != nil {
		p.logger.Debug("dropping invalid resource-server nonce", "origin", origin, "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resourceNonces[origin] = nonce
}

// Flush deletes all persisted state and forgets the in-memory key and
// nonces, so the next Init generates a fresh key pair.  Called on logout.
func (p *SignatureProvider) Flush(ctx context.Context) error {
	const op = "SignatureProvider.Flush"
	if err := p.store.Flush(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = nil
	p.alg = p.requested
	p.resourceNonces = make(map[string]string)
	return nil
}

// normalizeHTU reduces a URL to scheme://host/path for the htu claim,
// excluding query and fragment.
func normalizeHTU(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("url is empty: %w", ErrInvalidParameter)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("unable to parse url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url must have scheme and host: %w", ErrInvalidParameter)
	}
	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host = host + ":" + port
		}
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path, nil
}
