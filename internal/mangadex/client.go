package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mangashell/pkg/models"
)

// DateTimeLayout is the timestamp format MangaDex expects in query filters.
const DateTimeLayout = "2006-01-02T15:04:05"

// PopularWindow is how far back PopularTitles looks for new titles.
const PopularWindow = 30 * 24 * time.Hour

type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Limiter   *rate.Limiter
	UserAgent string

	now func() time.Time
}

// NewClient returns a client limited to rps requests per second.
// rps <= 0 disables limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64, userAgent string) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: timeout},
		Limiter:   rate.NewLimiter(limit, 1),
		UserAgent: userAgent,
		now:       time.Now,
	}
}

// PopularTitles lists manga created in the last 30 days, most followed first.
func (c *Client) PopularTitles(ctx context.Context) (models.Collection[models.Manga], error) {
	since := c.now().UTC().Add(-PopularWindow)

	q := url.Values{}
	q.Set("createdAtSince", since.Format(DateTimeLayout))
	q.Set("order[followedCount]", "desc")
	q.Add("includes[]", "cover_art")
	q.Add("includes[]", "author")
	q.Add("contentRating[]", "safe")
	q.Add("contentRating[]", "suggestive")

	var out models.Collection[models.Manga]
	if err := c.get(ctx, "/manga", q, &out); err != nil {
		return models.Collection[models.Manga]{}, err
	}
	return out, nil
}

func (c *Client) GetManga(ctx context.Context, id uuid.UUID) (models.Data[models.Manga], error) {
	q := url.Values{}
	q.Add("includes[]", "cover_art")
	q.Add("includes[]", "author")

	var out models.Data[models.Manga]
	if err := c.get(ctx, "/manga/"+id.String(), q, &out); err != nil {
		return models.Data[models.Manga]{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrRequest, err)
	}

	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// body may not be JSON (gateway errors); the status alone is enough then
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
