package slotsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"praxis/internal/models"
)

// Client calls the remote FHIR-like scheduling API for free slots.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration
}

// ClientConfig holds connection settings for the scheduling API.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// bundle is the subset of a FHIR search Bundle the client reads.
type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource slotResource `json:"resource"`
	} `json:"entry"`
}

type slotResource struct {
	ResourceType string    `json:"resourceType"`
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Schedule     struct {
		Reference string      `json:"reference"`
		Actor     []reference `json:"actor"`
	} `json:"schedule"`
}

type reference struct {
	Reference string `json:"reference"`
}

// practitioner returns the id of the first Practitioner actor of the slot's schedule.
func (r slotResource) practitioner() string {
	for _, a := range r.Schedule.Actor {
		if id, ok := strings.CutPrefix(a.Reference, "Practitioner/"); ok {
			return id
		}
	}
	return ""
}

// NewClient constructs a client for the scheduling API.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// UseRedisCache configures optional Redis caching of unfiltered responses so
// replicas behind a load balancer share remote results for a short time.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// FetchSlots returns free slots matching q, sorted by start time.
func (c *Client) FetchSlots(ctx context.Context, q Query) ([]models.Slot, error) {
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("fetch slots: empty range %s..%s", q.Start, q.End)
	}
	if q.DurationMinutes <= 0 {
		return nil, fmt.Errorf("fetch slots: invalid duration %d", q.DurationMinutes)
	}

	// Practitioner-filtered answers are never shared between replicas.
	shared := q.PractitionerID == ""
	key := redisKey(q)
	if shared && !q.Fresh {
		if cached, ok := c.cachedSlots(ctx, key); ok {
			return cached, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}

	var b bundle
	if err := c.doGet(ctx, c.slotsURL(q), &b); err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}

	slots := make([]models.Slot, 0, len(b.Entry))
	for _, e := range b.Entry {
		r := e.Resource
		if r.Status != "" && r.Status != "free" {
			continue
		}
		s := models.Slot{
			Start:           r.Start,
			End:             r.End,
			DurationMinutes: q.DurationMinutes,
			PractitionerID:  r.practitioner(),
		}
		if !s.Valid() {
			continue
		}
		slots = append(slots, s)
	}
	models.SortSlots(slots)

	if shared {
		c.storeSlots(ctx, key, slots)
	}
	return slots, nil
}

func (c *Client) slotsURL(q Query) string {
	v := url.Values{}
	v.Add("start", "ge"+q.Start.Format(time.RFC3339))
	v.Add("start", "lt"+q.End.Format(time.RFC3339))
	v.Set("duration", strconv.Itoa(q.DurationMinutes))
	v.Set("status", "free")
	if q.PractitionerID != "" {
		v.Set("practitioner", q.PractitionerID)
	}
	return fmt.Sprintf("%s/Slot?%s", c.baseURL, v.Encode())
}

func redisKey(q Query) string {
	return fmt.Sprintf("praxis:slots:%s:%s:%d", q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339), q.DurationMinutes)
}

// cachedSlots returns a response another replica stored for the same range.
// Redis errors count as a miss.
func (c *Client) cachedSlots(ctx context.Context, key string) ([]models.Slot, bool) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var slots []models.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, false
	}
	return slots, true
}

func (c *Client) storeSlots(ctx context.Context, key string, slots []models.Slot) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, raw, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HealthCheck checks that the scheduling API answers its metadata endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/metadata", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}
