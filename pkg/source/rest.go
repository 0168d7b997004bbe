package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

// TokenProvider supplies the bearer token for authenticated requests.
// Satisfied by session.Session.
type TokenProvider interface {
	Token() string
}

// RESTConfig holds the REST source configuration.
type RESTConfig struct {
	// BaseURL of the backend, without trailing slash.
	BaseURL string

	// Tokens supplies the bearer token per request. Optional; requests
	// are sent unauthenticated when nil.
	Tokens TokenProvider

	// Timeout per HTTP request.
	Timeout time.Duration
}

// DefaultRESTConfig returns a safe default configuration.
func DefaultRESTConfig(baseURL string, tokens TokenProvider) RESTConfig {
	return RESTConfig{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: 30 * time.Second,
	}
}

// RESTSource talks to a JSON backend exposing paged collections:
//
//	GET    {base}/collections/{name}/records?offset=&limit=   -> Page
//	POST   {base}/collections/{name}/records                  -> Record
//	PATCH  {base}/collections/{name}/records/{id}             -> Record
//	DELETE {base}/collections/{name}/records?ids=a,b          -> 204
type RESTSource struct {
	httpClient *http.Client
	config     RESTConfig
	logger     zerolog.Logger
}

// NewRESTSource creates a REST source.
func NewRESTSource(cfg RESTConfig) (*RESTSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &RESTSource{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     log.With().Str("component", "rest-source").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *RESTSource) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// FetchPage fetches one page window of a collection.
func (s *RESTSource) FetchPage(ctx context.Context, q Query) (Page, error) {
	if q.Limit <= 0 {
		return Page{}, NewError(KindValidation, 0, fmt.Sprintf("limit must be > 0 (got %d)", q.Limit), nil)
	}
	if q.Offset < 0 {
		return Page{}, NewError(KindValidation, 0, fmt.Sprintf("offset must be >= 0 (got %d)", q.Offset), nil)
	}

	params := url.Values{}
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(q.Limit))
	for _, key := range sortedKeys(q.Filters) {
		params.Set("filter."+key, q.Filters[key])
	}

	endpoint := fmt.Sprintf("/collections/%s/records", q.Collection)
	body, err := s.do(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Page{}, err
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, NewError(KindValidation, 0, "decode page response", err)
	}

	// Validate records at the boundary so malformed rows never reach
	// the row store.
	for i := range page.Records {
		if err := page.Records[i].Validate(); err != nil {
			return Page{}, NewError(KindValidation, 0, "invalid record in page", err)
		}
	}

	s.logger.Debug().
		Str("collection", q.Collection).
		Int("offset", q.Offset).
		Int("limit", q.Limit).
		Int("returned", len(page.Records)).
		Int("total_count", page.TotalCount).
		Msg("Page fetched")

	return page, nil
}

// Insert creates a record and returns the persisted version.
func (s *RESTSource) Insert(ctx context.Context, collection string, rec *record.Record) (*record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, NewError(KindValidation, 0, "invalid record", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, NewError(KindValidation, 0, "encode record", err)
	}

	endpoint := fmt.Sprintf("/collections/%s/records", collection)
	body, err := s.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var saved record.Record
	if err := json.Unmarshal(body, &saved); err != nil {
		return nil, NewError(KindValidation, 0, "decode insert response", err)
	}
	return &saved, nil
}

// Update replaces a record keyed by its ID and returns the persisted
// version.
func (s *RESTSource) Update(ctx context.Context, collection string, rec *record.Record) (*record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, NewError(KindValidation, 0, "invalid record", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, NewError(KindValidation, 0, "encode record", err)
	}

	endpoint := fmt.Sprintf("/collections/%s/records/%s", collection, url.PathEscape(rec.ID))
	body, err := s.do(ctx, http.MethodPatch, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var saved record.Record
	if err := json.Unmarshal(body, &saved); err != nil {
		return nil, NewError(KindValidation, 0, "decode update response", err)
	}
	return &saved, nil
}

// Delete removes records by ID.
func (s *RESTSource) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))

	endpoint := fmt.Sprintf("/collections/%s/records", collection)
	_, err := s.do(ctx, http.MethodDelete, endpoint+"?"+params.Encode(), nil)
	return err
}

// do executes one HTTP request and classifies failures into the error
// taxonomy. Retries are the caller's concern.
func (s *RESTSource) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		sourceRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+endpoint, reqBody)
	if err != nil {
		return nil, NewError(KindValidation, 0, "create request", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.config.Tokens != nil {
		if token := s.config.Tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Transport failure")
		sourceErrorsTotal.WithLabelValues(string(KindNetwork)).Inc()
		sourceRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, NewError(KindNetwork, 0, "transport failure", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		sourceErrorsTotal.WithLabelValues(string(KindNetwork)).Inc()
		return nil, NewError(KindNetwork, resp.StatusCode, "read response body", err)
	}

	sourceRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		kind := ClassifyStatus(resp.StatusCode)
		sourceErrorsTotal.WithLabelValues(string(kind)).Inc()

		s.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_kind", string(kind)).
			Msg("Backend request error")

		return nil, NewError(kind, resp.StatusCode, resp.Status, nil)
	}

	return body, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
