package identity

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/worker"
)

// defaultRefreshInterval is the schedule used when the certificates
// endpoint's response carries no parseable Cache-Control max-age, §4.D.
const defaultRefreshInterval = time.Hour

// retryDelay is how long the refresher waits after a failed discovery or
// certificates fetch before trying again, §8 scenario S8.
const retryDelay = 60 * time.Second

// FederatedVerifier resolves an issuer's OIDC discovery document and
// verifies signed ID tokens against its published key set. The verifier is
// a single atomically-replaceable snapshot; a verification in progress
// always sees a consistent provider even if a refresh runs concurrently.
type FederatedVerifier struct {
	issuer     string
	audience   string
	httpClient *http.Client
	logger     *zap.Logger

	verifier atomic.Pointer[oidc.IDTokenVerifier]
	w        *worker.SleepyWorker
}

// NewFederatedVerifier constructs a verifier for the given issuer. audience
// is the expected "aud" claim, normally the client id this server was
// registered under with the identity provider.
func NewFederatedVerifier(issuer, audience string, logger *zap.Logger) *FederatedVerifier {
	return &FederatedVerifier{
		issuer:     issuer,
		audience:   audience,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		w:          worker.New(),
	}
}

// Run fetches the issuer's discovery document and certificates once, then
// loops: sleep for however long the certificates endpoint's Cache-Control
// said to (or retryDelay after a failed fetch), refetch, repeat. It returns
// when Stop is called.
func (v *FederatedVerifier) Run() {
	v.w.Start()
	for {
		v.w.Busy()
		wait, err := v.refresh()
		if err != nil {
			v.logger.Warn("federated provider refresh failed, retrying", zap.Error(err), zap.Duration("retryIn", retryDelay))
			wait = retryDelay
		}
		if !v.w.Sleep(wait) {
			return
		}
	}
}

// Stop requests the refresh loop to exit, waiting up to timeout for an
// in-flight fetch to clear.
func (v *FederatedVerifier) Stop(timeout time.Duration) bool {
	return v.w.Finish(timeout)
}

// refresh performs OIDC discovery against the issuer, installs a verifier
// bound to its current key set, and separately fetches the issuer's
// certificates endpoint to read how long its response says the keys are
// good for — the Cache-Control max-age directive §4.D and scenario S8 key
// the next refresh off of. The discovery round-trip (for the verifier) and
// the certificates round-trip (for the schedule) are deliberately distinct
// requests: go-oidc's discovery client doesn't surface response headers.
func (v *FederatedVerifier) refresh() (time.Duration, error) {
	ctx := oidc.ClientContext(context.Background(), v.httpClient)
	provider, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return 0, fmt.Errorf("identity: OIDC discovery for %s: %w", v.issuer, err)
	}

	var claims struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&claims); err != nil || claims.JWKSURI == "" {
		return 0, fmt.Errorf("identity: OIDC discovery for %s: no jwks_uri published", v.issuer)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, claims.JWKSURI, nil)
	if err != nil {
		return 0, fmt.Errorf("identity: building certificates request for %s: %w", claims.JWKSURI, err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("identity: fetching certificates from %s: %w", claims.JWKSURI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("identity: certificates fetch from %s: status %d", claims.JWKSURI, resp.StatusCode)
	}

	wait := maxAge(resp.Header.Get("Cache-Control"))

	endpoint := provider.Endpoint()
	v.logger.Info("federated provider refreshed",
		zap.String("issuer", v.issuer),
		zap.String("auth_endpoint", endpoint.AuthURL),
		zap.String("token_endpoint", endpoint.TokenURL),
		zap.Duration("nextRefresh", wait),
	)

	v.verifier.Store(provider.Verifier(&oidc.Config{ClientID: v.audience}))
	return wait, nil
}

// maxAge extracts the max-age directive (in seconds) from a Cache-Control
// header value, falling back to defaultRefreshInterval when it is absent or
// unparseable, §4.D.
func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		name, value, ok := strings.Cut(directive, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			break
		}
		return time.Duration(seconds) * time.Second
	}
	return defaultRefreshInterval
}

// Verify checks a federated ID token against the current provider snapshot
// and returns its subject claim, which is the user identifier.
func (v *FederatedVerifier) Verify(tokenString string) (subject string, err error) {
	verifier := v.verifier.Load()
	if verifier == nil {
		return "", berrors.New(berrors.CodeAuthentication, "no federated provider available")
	}
	idToken, err := verifier.Verify(context.Background(), tokenString)
	if err != nil {
		return "", berrors.Wrap(berrors.CodeAuthentication, "federated token rejected", err)
	}
	return idToken.Subject, nil
}
