package harvest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DiscoveryConfig bounds the API-discovery observation window.
type DiscoveryConfig struct {
	// PathMarker must appear in a candidate endpoint URL.
	PathMarker string        `mapstructure:"path_marker"`
	Settle     time.Duration `mapstructure:"settle"`
}

// DefaultDiscoveryConfig returns the tuned production defaults.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{PathMarker: "/answers", Settle: 4 * time.Second}
}

// Discovery observes network traffic during one forced scroll and reports the
// first response that looks like the paginated answers endpoint.
type Discovery struct {
	cfg DiscoveryConfig
}

// NewDiscovery builds a Discovery.
func NewDiscovery(cfg DiscoveryConfig) *Discovery {
	def := DefaultDiscoveryConfig()
	if cfg.PathMarker == "" {
		cfg.PathMarker = def.PathMarker
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Discovery{cfg: cfg}
}

// Discover subscribes to responses, scrolls to the bottom, and waits for the
// settle window or the first accepted response. The subscription is always
// released before Discover returns.
func (d *Discovery) Discover(ctx context.Context, page Page) (string, bool, error) {
	events, unsubscribe := page.Subscribe(ctx)
	defer unsubscribe()

	if err := ScrollToBottom(ctx, page); err != nil {
		return "", false, err
	}

	timer := time.NewTimer(d.cfg.Settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case resp, ok := <-events:
			if !ok {
				return "", false, nil
			}
			if Accepts(resp, d.cfg.PathMarker) {
				return resp.URL, true, nil
			}
		}
	}
}

// Accepts reports whether resp is a GET XHR/fetch response whose URL contains
// marker and whose body carries a paging object with a boolean is_end.
func Accepts(resp NetworkResponse, marker string) bool {
	if resp.ResourceType != ResourceXHR && resp.ResourceType != ResourceFetch {
		return false
	}
	if !strings.EqualFold(resp.Method, http.MethodGet) {
		return false
	}
	if !strings.Contains(resp.URL, marker) {
		return false
	}
	var envelope struct {
		Paging *struct {
			IsEnd *bool `json:"is_end"`
		} `json:"paging"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return false
	}
	return envelope.Paging != nil && envelope.Paging.IsEnd != nil
}
