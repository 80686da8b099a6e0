// Package auth drives the authorization-code-with-PKCE flow against the
// identity provider, including the credential submission and the out-of-band
// MFA challenge. One Authenticate call is one attempt: it owns a fresh PKCE
// context and a fresh cookie jar, and both are discarded when the attempt
// ends, so a correlation token or interaction cookie can never leak into a
// later flow.
package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/chargekeep/chargekeep/internal/config"
	"github.com/chargekeep/chargekeep/internal/httpx"
	"github.com/chargekeep/chargekeep/pkce"
	"github.com/chargekeep/chargekeep/token"
)

// Solver resolves the out-of-band MFA challenge: it watches the delivery
// channel from requestedAt and returns the code, or fails once deadline
// passes.
type Solver interface {
	Solve(ctx context.Context, requestedAt, deadline time.Time) (string, error)
}

const (
	loginPath        = "/u/login"
	mfaChallengePath = "/u/mfa-email-challenge"

	userAgent      = "Mozilla/5.0 (Linux; Android 11; SM-G930F) AppleWebKit/537.36 Chrome/129.0.6668.70 Mobile Safari/537.36"
	acceptLanguage = "es-ES,es;q=0.9"

	maxRedirects = 15
	maxBodyBytes = 1 << 20
)

// Some provider pages embed the app callback as a link instead of
// redirecting to it.
var callbackHrefPattern = regexp.MustCompile(`href="([a-z][a-z0-9+.-]*://[^"]*[?&]code=[^"]+)"`)

// Authenticator performs the full login flow.
type Authenticator struct {
	cfg       config.AuthConfig
	solver    Solver
	logger    zerolog.Logger
	transport http.RoundTripper
	nowTime   func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithTransport sets the base transport for the per-attempt HTTP client.
func WithTransport(rt http.RoundTripper) AuthenticatorOption {
	return func(a *Authenticator) {
		a.transport = rt
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		a.nowTime = nowFunc
	}
}

func NewAuthenticator(cfg config.AuthConfig, solver Solver, logger zerolog.Logger, options ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		cfg:     cfg,
		solver:  solver,
		logger:  logger.With().Str("component", "authenticator").Logger(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Authenticate runs the five-step flow and returns the initial token pair.
// A failure at any step fails the whole attempt; the provider's correlation
// tokens are single-use, so a retry must start again from the first step.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*token.Session, error) {
	att, err := a.newAttempt()
	if err != nil {
		return nil, err
	}

	if err := att.authorize(ctx); err != nil {
		return nil, err
	}

	callback, mfaRequired, err := att.login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	if mfaRequired {
		requestedAt, deadline, err := att.requestChallenge(ctx)
		if err != nil {
			return nil, err
		}

		a.logger.Info().Time("deadline", deadline).Msg("waiting for verification code")
		code, err := a.solver.Solve(ctx, requestedAt, deadline)
		if err != nil {
			return nil, stepErr(stepChallengeSubmit, ErrMFATimeout, err.Error())
		}

		callback, err = att.submitChallenge(ctx, code)
		if err != nil {
			return nil, err
		}
	}

	sess, err := att.exchange(ctx, callback)
	if err != nil {
		return nil, err
	}
	a.logger.Info().Time("expires_at", sess.ExpiresAt).Msg("authentication completed")
	return sess, nil
}

// attempt is the scoped interaction session for one run of the flow: the
// cookie jar carrying the provider's interaction state across all steps, the
// PKCE context, and the correlation tokens. It never outlives Authenticate.
type attempt struct {
	a      *Authenticator
	client *http.Client
	pkce   *pkce.Context

	state    string
	mfaState string
}

func (a *Authenticator) newAttempt() (*attempt, error) {
	pk, err := pkce.New()
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "[Authenticator.newAttempt] cookie jar")
	}

	att := &attempt{a: a, pkce: pk}
	att.client = &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
		Transport: &httpx.HeaderRoundTripper{
			Headers: map[string]string{
				"User-Agent":      userAgent,
				"Accept-Language": acceptLanguage,
				"Auth0-Client":    a.cfg.GetAuthClientHeader(),
			},
			Base: a.transport,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// The final hop redirects to the app's callback scheme, which no
			// HTTP client can follow; stop there and hand back the response
			// so the Location header can be read.
			if a.isCallbackURL(req.URL) {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	return att, nil
}

// authorize requests the authorization endpoint with the PKCE challenge and
// captures the provider-issued state from the login page it lands on.
func (att *attempt) authorize(ctx context.Context) error {
	params := url.Values{
		"client_id":             {att.a.cfg.GetClientID()},
		"redirect_uri":          {att.a.cfg.GetRedirectURI()},
		"response_type":         {"code"},
		"scope":                 {strings.Join(att.a.cfg.GetScopes(), " ")},
		"code_challenge":        {att.pkce.Challenge},
		"code_challenge_method": {"S256"},
		"audience":              {att.a.cfg.GetAudience()},
	}

	resp, err := att.get(ctx, att.a.baseURL()+"/authorize?"+params.Encode())
	if err != nil {
		return stepErr(stepAuthorize, ErrProvider, err.Error())
	}
	defer drain(resp)

	if resp.StatusCode >= 400 {
		return stepErrf(stepAuthorize, ErrProvider, "authorize endpoint returned %d", resp.StatusCode)
	}

	state := resp.Request.URL.Query().Get("state")
	if state == "" {
		return stepErr(stepAuthorize, ErrProvider, "login redirect carries no state")
	}
	att.state = state
	att.a.logger.Debug().Str("step", stepAuthorize.String()).Msg("interaction state captured")
	return nil
}

// login submits the credentials bound to the captured state. It returns
// either the callback URL directly (providers may skip MFA for trusted
// devices) or the signal that an MFA challenge follows.
func (att *attempt) login(ctx context.Context, username, password string) (callback string, mfaRequired bool, err error) {
	form := url.Values{
		"state":    {att.state},
		"username": {username},
		"password": {password},
	}

	resp, err := att.postForm(ctx, att.a.baseURL()+loginPath+"?state="+url.QueryEscape(att.state), form)
	if err != nil {
		return "", false, stepErr(stepLogin, ErrProvider, err.Error())
	}
	defer drain(resp)

	if cb := att.callbackLocation(resp); cb != "" {
		return cb, false, nil
	}

	final := resp.Request.URL
	if strings.Contains(final.Path, mfaChallengePath) {
		mfaState := final.Query().Get("state")
		if mfaState == "" {
			return "", false, stepErr(stepLogin, ErrProvider, "challenge redirect carries no state")
		}
		att.mfaState = mfaState
		att.a.logger.Debug().Str("step", stepLogin.String()).Msg("credentials accepted, challenge pending")
		return "", true, nil
	}
	if final.Query().Get("code") != "" {
		return final.String(), false, nil
	}
	if resp.StatusCode >= 400 || strings.Contains(final.Path, loginPath) {
		return "", false, stepErr(stepLogin, ErrInvalidCredentials, "login was not accepted")
	}
	return "", false, stepErrf(stepLogin, ErrProvider, "unexpected landing page %s", final.Path)
}

// requestChallenge signals readiness for the MFA challenge, which makes the
// provider dispatch the out-of-band code, and fixes the window in which it
// must be supplied.
func (att *attempt) requestChallenge(ctx context.Context) (requestedAt, deadline time.Time, err error) {
	// The provider dispatches the code while handling this request, so the
	// window opens before it is sent; a code received mid-request must not
	// look stale.
	requestedAt = att.a.nowTime()

	resp, err := att.get(ctx, att.a.baseURL()+mfaChallengePath+"?state="+url.QueryEscape(att.mfaState))
	if err != nil {
		return time.Time{}, time.Time{}, stepErr(stepChallengeRequest, ErrProvider, err.Error())
	}
	defer drain(resp)

	if resp.StatusCode >= 400 {
		return time.Time{}, time.Time{}, stepErrf(stepChallengeRequest, ErrProvider, "challenge endpoint returned %d", resp.StatusCode)
	}

	return requestedAt, requestedAt.Add(att.a.cfg.GetMFAWindow()), nil
}

// submitChallenge posts the code and captures the callback redirect carrying
// the authorization code.
func (att *attempt) submitChallenge(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"state": {att.mfaState},
		"code":  {code},
	}

	resp, err := att.postForm(ctx, att.a.baseURL()+mfaChallengePath+"?state="+url.QueryEscape(att.mfaState), form)
	if err != nil {
		return "", stepErr(stepChallengeSubmit, ErrProvider, err.Error())
	}
	defer drain(resp)

	if cb := att.callbackLocation(resp); cb != "" {
		return cb, nil
	}

	final := resp.Request.URL
	if final.Query().Get("code") != "" {
		return final.String(), nil
	}

	// Some responses render an interstitial page with the app link in it.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if m := callbackHrefPattern.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}

	if resp.StatusCode >= 400 || strings.Contains(final.Path, mfaChallengePath) {
		return "", stepErr(stepChallengeSubmit, ErrMFARejected, "code was not accepted")
	}
	return "", stepErrf(stepChallengeSubmit, ErrProvider, "unexpected landing page %s", final.Path)
}

// exchange trades the authorization code plus the original verifier for the
// token pair.
func (att *attempt) exchange(ctx context.Context, callback string) (*token.Session, error) {
	cb, err := url.Parse(callback)
	if err != nil {
		return nil, stepErr(stepExchange, ErrProvider, "callback URL unparseable")
	}
	code := cb.Query().Get("code")
	if code == "" {
		return nil, stepErr(stepExchange, ErrProvider, "callback carries no authorization code")
	}

	octx := context.WithValue(ctx, oauth2.HTTPClient, att.client)
	tok, err := att.a.oauthConfig().Exchange(octx, code,
		oauth2.SetAuthURLParam("code_verifier", att.pkce.Verifier),
	)
	if err != nil {
		return nil, stepErr(stepExchange, ErrProvider, err.Error())
	}

	sess := token.FromOAuth2(tok)
	if sess.AccessToken == "" {
		return nil, stepErr(stepExchange, ErrProvider, "token response carries no access token")
	}
	return sess, nil
}

func (att *attempt) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return att.client.Do(req)
}

func (att *attempt) postForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return att.client.Do(req)
}

// callbackLocation returns the app callback URL when the response is the
// stopped redirect towards it.
func (att *attempt) callbackLocation(resp *http.Response) string {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return ""
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return ""
	}
	if u, err := url.Parse(loc); err == nil && att.a.isCallbackURL(u) {
		return loc
	}
	return ""
}

func (a *Authenticator) isCallbackURL(u *url.URL) bool {
	if strings.HasPrefix(u.String(), a.cfg.GetRedirectURI()) {
		return true
	}
	return u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https"
}

func (a *Authenticator) baseURL() string {
	return strings.TrimRight(a.cfg.GetAuthBaseURL(), "/")
}

func (a *Authenticator) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    a.cfg.GetClientID(),
		RedirectURL: a.cfg.GetRedirectURI(),
		Scopes:      a.cfg.GetScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.baseURL() + "/authorize",
			TokenURL:  a.baseURL() + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func stepErr(s step, sentinel error, msg string) error {
	return errors.Wrapf(sentinel, "[Authenticate:%s] %s", s, msg)
}

func stepErrf(s step, sentinel error, format string, args ...any) error {
	return errors.Wrapf(sentinel, "[Authenticate:%s] "+format, append([]any{s}, args...)...)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
}
