package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"golang.org/x/time/rate"
)

// DefaultUserAgent identifies the mirror to the remote when none is
// configured.
const DefaultUserAgent = "wikimirror/1.0 (+https://github.com/kilupskalvis/wikimirror)"

// SourceClient defines the contract for reading from the remote content API.
type SourceClient interface {
	// Query issues one action=query request with the given parameters.
	Query(ctx context.Context, params map[string]string) (*QueryResponse, error)

	// FetchRevision returns the full record for a revision, including
	// content. Deleted revisions are looked up in the archive when the live
	// lookup reports them missing.
	FetchRevision(ctx context.Context, revID int64) (*models.RemoteRevision, error)

	// UserByID returns the account's current name.
	UserByID(ctx context.Context, userID int64) (*UserInfo, error)

	// Download opens a raw file URL. The caller closes the body.
	Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error)
}

// authCodes are API error codes that mean the request lacks rights.
var authCodes = map[string]bool{
	"permissiondenied":              true,
	"readapidenied":                 true,
	"badtoken":                      true,
	"notloggedin":                   true,
	"assertuserfailed":              true,
	"assertbotfailed":               true,
	"mwoauth-invalid-authorization": true,
}

// HTTPClient implements SourceClient over HTTP.
type HTTPClient struct {
	apiURL     string
	userAgent  string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRateLimit throttles all requests to rps per second. Zero disables it.
func WithRateLimit(rps float64) HTTPOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPClient creates a client for the api.php endpoint at apiURL.
func NewHTTPClient(apiURL, userAgent, token string, opts ...HTTPOption) *HTTPClient {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	c := &HTTPClient{
		apiURL:     apiURL,
		userAgent:  userAgent,
		token:      token,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// Query issues one action=query request.
func (c *HTTPClient) Query(ctx context.Context, params map[string]string) (*QueryResponse, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	for k, v := range params {
		q.Set(k, v)
	}

	resp, err := c.do(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var qr QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if qr.Error != nil {
		return nil, &RemoteError{Code: qr.Error.Code, Message: qr.Error.Info, Status: resp.StatusCode}
	}

	return &qr, nil
}

// FetchRevision returns the full record for a revision.
func (c *HTTPClient) FetchRevision(ctx context.Context, revID int64) (*models.RemoteRevision, error) {
	id := strconv.FormatInt(revID, 10)
	resp, err := c.Query(ctx, map[string]string{
		"prop":    "revisions",
		"revids":  id,
		"rvprop":  fullRevisionProps,
		"rvslots": "main",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch revision %d: %w", revID, err)
	}
	if revs, _ := Revisions("pages")(resp); len(revs) > 0 {
		return &revs[0], nil
	}

	// Not live; try the deleted archive.
	resp, err = c.Query(ctx, map[string]string{
		"prop":     "deletedrevisions",
		"revids":   id,
		"drvprop":  fullRevisionProps,
		"drvslots": "main",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch deleted revision %d: %w", revID, err)
	}
	if revs, err := deletedRevisions(resp); err == nil && len(revs) > 0 {
		return &revs[0], nil
	}

	return nil, fmt.Errorf("revision %d: %w", revID, ErrNotFound)
}

// deletedRevisions reads pages[].deletedrevisions.
func deletedRevisions(resp *QueryResponse) ([]models.RemoteRevision, error) {
	raw, err := section(resp, "pages")
	if err != nil {
		return nil, err
	}
	var pages []struct {
		apiPage
		Deleted []apiRevision `json:"deletedrevisions"`
	}
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var out []models.RemoteRevision
	for _, p := range pages {
		for _, r := range p.Deleted {
			out = append(out, convertRevision(p.apiPage, r))
		}
	}
	return out, nil
}

// UserByID returns the account's current name.
func (c *HTTPClient) UserByID(ctx context.Context, userID int64) (*UserInfo, error) {
	resp, err := c.Query(ctx, map[string]string{
		"list":      "users",
		"ususerids": strconv.FormatInt(userID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("lookup user %d: %w", userID, err)
	}

	raw, err := section(resp, "users")
	if err != nil {
		return nil, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	var users []UserInfo
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	if len(users) == 0 {
		return &UserInfo{ID: userID, Missing: true}, nil
	}
	u := users[0]
	if u.ID == 0 {
		u.ID = userID
	}
	return &u, nil
}

// Download opens a raw file URL.
func (c *HTTPClient) Download(ctx context.Context, rawURL string, header http.Header) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	return resp.Body, nil
}

// RemoteError represents a structured error from the API.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// IsAuth reports whether the remote rejected the request for lack of rights.
func (e *RemoteError) IsAuth() bool {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return true
	}
	return authCodes[e.Code]
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		msg := strings.TrimSpace(string(body))
		if msg == "" || len(msg) > 200 {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return &RemoteError{
			Code:    "http",
			Message: msg,
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    envelope.Error.Code,
		Message: envelope.Error.Info,
		Status:  resp.StatusCode,
	}
}
