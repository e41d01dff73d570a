package services

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/example/storefront/internal/metrics"
)

// VerifiedIdentity is what a federated identity provider vouches for.
type VerifiedIdentity struct {
	UID         string
	Email       string
	DisplayName string
}

// IdentityVerifier turns a federated bearer credential into a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*VerifiedIdentity, error)
}

var (
	identityMu       sync.Mutex
	identityVerifier IdentityVerifier
)

// InitIdentityVerifier installs the process-wide verifier. The first
// successful call wins; later calls return the installed verifier without
// invoking build.
func InitIdentityVerifier(build func() (IdentityVerifier, error)) (IdentityVerifier, error) {
	identityMu.Lock()
	defer identityMu.Unlock()

	if identityVerifier != nil {
		return identityVerifier, nil
	}

	v, err := build()
	if err != nil {
		return nil, err
	}
	identityVerifier = v
	return v, nil
}

// IdentityVerifierInstance returns the installed verifier, or nil.
func IdentityVerifierInstance() IdentityVerifier {
	identityMu.Lock()
	defer identityMu.Unlock()
	return identityVerifier
}

const (
	defaultFirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	defaultCertsTTL         = time.Hour
)

// FirebaseVerifier validates Firebase Auth ID tokens against Google's
// published signing certificates.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	http      *http.Client
	now       func() time.Time

	mu     sync.RWMutex
	keys   map[string]*rsa.PublicKey
	expiry time.Time
	group  singleflight.Group
}

var _ IdentityVerifier = (*FirebaseVerifier)(nil)

// NewFirebaseVerifier builds a verifier for the given Firebase project.
func NewFirebaseVerifier(projectID, certsURL string) (*FirebaseVerifier, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("firebase project id is not configured")
	}
	if strings.TrimSpace(certsURL) == "" {
		certsURL = defaultFirebaseCertsURL
	}
	return &FirebaseVerifier{
		projectID: projectID,
		certsURL:  certsURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
	}, nil
}

type firebaseClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verify checks signature, audience, issuer and expiry, and requires an email.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*VerifiedIdentity, error) {
	start := time.Now()
	identity, err := v.verify(ctx, token)
	outcome := "ok"
	switch {
	case isTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.ObserveGateway("firebase", outcome, start)
	return identity, err
}

func (v *FirebaseVerifier) verify(ctx context.Context, token string) (*VerifiedIdentity, error) {
	claims := &firebaseClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify firebase id token: %w", err)
	}

	if claims.Subject == "" {
		return nil, errors.New("firebase id token has no subject")
	}
	if claims.Email == "" {
		return nil, errors.New("firebase id token has no email")
	}

	return &VerifiedIdentity{
		UID:         claims.Subject,
		Email:       strings.ToLower(claims.Email),
		DisplayName: claims.Name,
	}, nil
}

func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}

	if _, err, _ := v.group.Do("certs", func() (interface{}, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		return nil, err
	}

	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (v *FirebaseVerifier) cachedKey(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.keys == nil || !v.now().Before(v.expiry) {
		return nil, false
	}
	key, ok := v.keys[kid]
	return key, ok
}

func (v *FirebaseVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("create firebase certs request: %w", err)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch firebase certs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read firebase certs: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch firebase certs: status %d", resp.StatusCode)
	}

	var pems map[string]string
	if err := json.Unmarshal(body, &pems); err != nil {
		return fmt.Errorf("unmarshal firebase certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return fmt.Errorf("parse firebase cert %q: %w", kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.expiry = v.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultCertsTTL
}
