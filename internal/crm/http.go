package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/gridsync/internal/catalog"
)

const (
	defaultPageSize       = 100
	fieldDefinitionsLimit = 500
)

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	routes     RouteTable
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// BaseURLForSubdomain is the API root for an account subdomain.
func BaseURLForSubdomain(subdomain string) string {
	return fmt.Sprintf("https://%s.pipedrive.com/api", strings.TrimSpace(subdomain))
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		routes:     DefaultRoutes(),
		pageSize:   defaultPageSize,
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
}

// SetRoutes overrides entries of the default route table.
func (c *HTTPClient) SetRoutes(routes RouteTable) {
	for entity, route := range routes {
		c.routes[NormalizeEntityType(entity)] = route
	}
}

func (c *HTTPClient) SetPageSize(size int) {
	if size > 0 {
		c.pageSize = size
	}
}

func (c *HTTPClient) ListRecords(ctx context.Context, entityType, filterID string, start int) (Page, error) {
	route, err := c.routes.Resolve(entityType)
	if err != nil {
		return Page{}, err
	}
	q := url.Values{}
	if filterID = strings.TrimSpace(filterID); filterID != "" {
		q.Set("filter_id", filterID)
	}
	q.Set("start", strconv.Itoa(start))
	q.Set("limit", strconv.Itoa(c.pageSize))

	env, err := c.do(ctx, http.MethodGet, "/v1/"+route.Resource, q, nil, true)
	if err != nil {
		return Page{}, err
	}
	var items []Record
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return Page{}, &RemoteAPIError{StatusCode: http.StatusOK, Code: "malformed_body", Message: err.Error()}
		}
	}
	page := Page{Items: items}
	if p := env.pagination(); p.MoreItems {
		page.HasMore = true
		page.NextStart = start + len(items)
		if p.NextStart != nil {
			page.NextStart = *p.NextStart
		}
	}
	return page, nil
}

func (c *HTTPClient) FieldDefinitions(ctx context.Context, entityType string) ([]catalog.FieldDefinition, error) {
	route, err := c.routes.Resolve(entityType)
	if err != nil {
		return nil, err
	}
	var defs []catalog.FieldDefinition
	start := 0
	for {
		q := url.Values{}
		q.Set("start", strconv.Itoa(start))
		q.Set("limit", strconv.Itoa(fieldDefinitionsLimit))
		env, err := c.do(ctx, http.MethodGet, "/v1/"+route.FieldsResource, q, nil, true)
		if err != nil {
			return nil, err
		}
		var pageDefs []catalog.FieldDefinition
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &pageDefs); err != nil {
				return nil, &RemoteAPIError{StatusCode: http.StatusOK, Code: "malformed_body", Message: err.Error()}
			}
		}
		defs = append(defs, pageDefs...)
		p := env.pagination()
		if !p.MoreItems || len(pageDefs) == 0 {
			return defs, nil
		}
		if p.NextStart != nil {
			start = *p.NextStart
		} else {
			start += len(pageDefs)
		}
	}
}

func (c *HTTPClient) UpdateRecord(ctx context.Context, entityType, recordID string, fields map[string]any) error {
	route, err := c.routes.Resolve(entityType)
	if err != nil {
		return err
	}
	if strings.TrimSpace(recordID) == "" {
		return fmt.Errorf("update %s: empty record id", route.Resource)
	}
	_, err = c.do(ctx, route.UpdateMethod, route.UpdatePath(recordID), nil, route.UpdateBody(fields), false)
	return err
}

func (c *HTTPClient) Filters(ctx context.Context) ([]Filter, error) {
	env, err := c.do(ctx, http.MethodGet, "/v1/filters", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID   any    `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, &RemoteAPIError{StatusCode: http.StatusOK, Code: "malformed_body", Message: err.Error()}
		}
	}
	filters := make([]Filter, 0, len(raw))
	for _, f := range raw {
		filters = append(filters, Filter{ID: FormatID(f.ID), Name: f.Name, Type: f.Type})
	}
	return filters, nil
}

func (c *HTTPClient) do(
	ctx context.Context,
	method, requestPath string,
	query url.Values,
	body any,
	list bool,
) (envelope, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return envelope{}, err
		}
	}
	if query == nil {
		query = url.Values{}
	}
	if c.token != "" {
		query.Set("api_token", c.token)
	}
	target := c.baseURL + requestPath
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return envelope{}, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return envelope{}, waitErr
				}
				continue
			}
			return envelope{}, err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return envelope{}, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return decodeEnvelope(resp.StatusCode, payloadBytes, list)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return envelope{}, waitErr
			}
			continue
		}

		var errPayload struct {
			Error     string      `json:"error"`
			ErrorInfo string      `json:"error_info"`
			ErrorCode json.Number `json:"errorCode"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Error
		if message == "" {
			message = strings.TrimSpace(string(payloadBytes))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return envelope{}, &RemoteAPIError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.ErrorCode.String(),
			Message:    message,
		}
	}
}

func correlationID() string {
	return fmt.Sprintf("gridsync_%d", time.Now().UnixNano())
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
