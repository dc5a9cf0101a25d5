package harvest

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Driver opens isolated browser sessions.
type Driver interface {
	Open(ctx context.Context, opts SessionOptions) (Page, error)
}

// Page is one live, navigable browser tab.
type Page interface {
	SetCookies(ctx context.Context, cookies []Cookie) error
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	// Evaluate runs script in the page and decodes its JSON result into out.
	// Promises are awaited.
	Evaluate(ctx context.Context, script string, out any) error
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	UserAgent(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Subscribe streams completed network responses until the returned
	// cancel func is called or ctx ends. The channel is closed afterwards.
	Subscribe(ctx context.Context) (<-chan NetworkResponse, func())
	Close(ctx context.Context) error
}

// Fetcher performs a single HTTP GET. Non-2xx statuses are returned, not errors.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (FetchResponse, error)
}

// Pacer blocks until a request to url may be sent.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// TextRenderer converts markup into plain text.
type TextRenderer interface {
	Text(markup string) string
}

// Tracker receives session lifecycle transitions.
type Tracker interface {
	Create(id string) error
	Update(id string, status Status, progress int, message string) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Ledger records completed exports.
type Ledger interface {
	RecordExport(ctx context.Context, entry ExportEntry) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// ExportEntry describes one written export for the ledger and publisher.
type ExportEntry struct {
	SessionID   string    `json:"session_id"`
	SourceURL   string    `json:"source_url"`
	Title       string    `json:"title"`
	Strategy    Strategy  `json:"strategy"`
	RecordCount int       `json:"record_count"`
	Partial     bool      `json:"partial"`
	FileName    string    `json:"file_name"`
	URI         string    `json:"uri"`
	MirrorURI   string    `json:"mirror_uri,omitempty"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
