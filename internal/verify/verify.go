// Package verify checks a site credential against the "current user" endpoint.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

// DefaultEndpoint is the Zhihu profile endpoint for the signed-in user.
const DefaultEndpoint = "https://www.zhihu.com/api/v4/me"

// ErrRejected means the site did not accept the credential.
var ErrRejected = errors.New("credential rejected")

// Config controls the verification client.
type Config struct {
	Endpoint  string        `mapstructure:"endpoint"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// CookieDomain is applied to JSON cookies without a domain.
	CookieDomain string `mapstructure:"cookie_domain"`
}

// User is the profile the credential belongs to.
type User struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar"`
	URL       string `json:"url"`
}

type profile struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	URL       string `json:"url"`
}

// RejectedError carries the status the site answered with.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("credential rejected with status %d", e.StatusCode)
}

// Unwrap lets errors.Is match ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Verifier issues profile lookups with a resty client.
type Verifier struct {
	cfg  Config
	http *resty.Client
}

// New builds a Verifier.
func New(cfg Config) *Verifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.CookieDomain == "" {
		cfg.CookieDomain = ".zhihu.com"
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json, text/plain, */*")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Verifier{cfg: cfg, http: client}
}

// Verify resolves the user behind credential, which may be a cookie header or a JSON cookie array.
func (v *Verifier) Verify(ctx context.Context, credential string) (User, error) {
	cookies, err := harvest.ParseCredential(credential, v.cfg.CookieDomain)
	if err != nil {
		return User{}, fmt.Errorf("parse credential: %w", err)
	}

	var body profile
	resp, err := v.http.R().
		SetContext(ctx).
		SetHeader("Cookie", harvest.CookieHeader(cookies)).
		SetResult(&body).
		Get(v.cfg.Endpoint)
	if err != nil {
		return User{}, fmt.Errorf("request profile: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return User{}, &RejectedError{StatusCode: resp.StatusCode()}
	}
	if body.Name == "" {
		return User{}, &RejectedError{StatusCode: resp.StatusCode()}
	}
	return User{Name: body.Name, AvatarURL: body.AvatarURL, URL: body.URL}, nil
}
