package harvest

import "time"

// Strategy identifies which extraction path produced a result.
type Strategy string

const (
	// StrategyScroll drives the rendered page through scroll-and-scrape rounds.
	StrategyScroll Strategy = "SCROLL"
	// StrategyAPI replays the discovered paginated data endpoint.
	StrategyAPI Strategy = "API"
)

// Status enumerates harvest session lifecycle states.
type Status string

// Session status values reported to progress pollers.
const (
	StatusPreparing  Status = "PREPARING"
	StatusProbing    Status = "PROBING"
	StatusHarvesting Status = "HARVESTING"
	StatusExporting  Status = "EXPORTING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Default field values used when a source omits them.
const (
	DefaultAuthor     = "anonymous"
	DefaultIPLocation = "unknown"
	DefaultContent    = "(empty)"
	DefaultVoteRaw    = "0"
)

// Record is one harvested answer.
type Record struct {
	Author     string `json:"author"`
	Content    string `json:"content"`
	IPLocation string `json:"ip_location"`
	VoteRaw    string `json:"vote_raw"`
	VoteCount  int    `json:"vote_count"`
}

// Result is the outcome of a successful harvest.
type Result struct {
	SessionID      string   `json:"session_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Records        []Record `json:"records"`
	StrategyUsed   Strategy `json:"strategy_used"`
	ScrollAttempts int      `json:"scroll_attempts"`
	PagesFetched   int      `json:"pages_fetched"`
	Partial        bool     `json:"partial"`
	Warnings       []string `json:"warnings,omitempty"`
	DownloadRef    string   `json:"download_url"`
	FileName       string   `json:"file_name"`
	Log            []string `json:"logs"`
}

// Cursor tracks the position within the paginated data endpoint.
type Cursor struct {
	Next  string
	IsEnd bool
}

// Done reports whether pagination must stop.
func (c Cursor) Done() bool {
	return c.IsEnd || c.Next == ""
}

// Cookie is a browser cookie in driver-neutral form.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// ResourceType mirrors the browser's classification of a network request.
type ResourceType string

const (
	ResourceDocument   ResourceType = "Document"
	ResourceXHR        ResourceType = "XHR"
	ResourceFetch      ResourceType = "Fetch"
	ResourceImage      ResourceType = "Image"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceFont       ResourceType = "Font"
	ResourceMedia      ResourceType = "Media"
	ResourceScript     ResourceType = "Script"
	ResourceOther      ResourceType = "Other"
)

// NetworkResponse is one completed response observed on a live page.
type NetworkResponse struct {
	URL          string
	Method       string
	ResourceType ResourceType
	Status       int
	Body         []byte
}

// FetchResponse is the outcome of a direct HTTP request.
type FetchResponse struct {
	StatusCode int
	Body       []byte
}

// SessionOptions configures one browser session.
type SessionOptions struct {
	UserAgent      string
	BlockResources []ResourceType
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
}
