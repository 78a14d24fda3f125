package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to a PostgREST-style collection API (/rest/v1/<table>)
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) tableURL(table string, params url.Values) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Select issues one GET for q. Equality filters become col=eq.value.
func (c *Client) Select(ctx context.Context, q Query) ([]json.RawMessage, error) {
	params := url.Values{}
	columns := "*"
	if len(q.Columns) > 0 {
		columns = strings.Join(q.Columns, ",")
	}
	params.Set("select", columns)

	// sorted for stable request URLs
	names := make([]string, 0, len(q.Eq))
	for name := range q.Eq {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		params.Set(name, "eq."+formatValue(q.Eq[name]))
	}

	if q.OrderBy != "" {
		direction := "asc"
		if q.Desc {
			direction = "desc"
		}
		params.Set("order", q.OrderBy+"."+direction)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, err := c.do(ctx, http.MethodGet, c.tableURL(q.Table, params), nil, "")
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, record interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.tableURL(table, nil), payload, "return=representation")
	if err != nil {
		return nil, err
	}
	return firstRow(body)
}

func (c *Client) Update(ctx context.Context, table, id string, patch map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}
	params := url.Values{"id": []string{"eq." + id}}
	body, err := c.do(ctx, http.MethodPatch, c.tableURL(table, params), payload, "return=representation")
	if err != nil {
		return nil, err
	}
	return firstRow(body)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	params := url.Values{"id": []string{"eq." + id}}
	_, err := c.do(ctx, http.MethodDelete, c.tableURL(table, params), nil, "")
	return err
}

// Ping checks that the table endpoint answers; used with WaitReady
func (c *Client) Ping(table string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := c.Select(ctx, Query{Table: table, Columns: []string{"id"}, Limit: 1})
		return err
	}
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte, prefer string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"url":    target,
		}).Error("Remote request failed")
		return nil, fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrStatus, method, target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func firstRow(body []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		// some endpoints answer with a single object
		return json.RawMessage(body), nil
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func formatValue(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return "null"
	default:
		return fmt.Sprint(value)
	}
}
