package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	tokenPath       = "/auth/v3/app_access_token/internal"
	wikiNodePath    = "/wiki/v2/spaces/get_node"
	recordsPathTmpl = "/bitable/v1/apps/%s/tables/%s/records"
	maxPages        = 200
)

// Options parameterise the directory client.
type Options struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	WikiNode  string
	TableID   string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Record is one free-form directory row with its display fields filled in.
type Record map[string]string

// Result is what callers receive. Source is "feishu" or "empty".
type Result struct {
	Records   []Record  `json:"records"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// displayDefaults maps display fields to the table column they come from.
var displayDefaults = []struct {
	field    string
	column   string
	fallback string
}{
	{"name", "项目", "-"},
	{"region", "资产地域", "未分类"},
	{"region_detail", "资产地域", "未分类"},
	{"type", "类型", "未分类"},
	{"scenario", "场景", "未分类"},
	{"industry", "", "未分类"},
	{"maturity", "优先级（1-5）", "未分类"},
	{"owner", "负责人", ""},
	{"number", "编号", ""},
}

// Client reads the producer pipeline table from a Feishu bitable.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// New constructs a directory client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://open.feishu.cn/open-apis"
	}
	if opts.PageSize <= 0 || opts.PageSize > 500 {
		opts.PageSize = 500
	}
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "directory").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Fetch returns every directory record. It never fails: any error is logged
// and yields an empty result.
func (c *Client) Fetch(ctx context.Context) Result {
	records, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("directory unavailable, returning empty set")
		return Result{Records: []Record{}, Source: "empty", FetchedAt: c.now().UTC()}
	}
	if len(records) == 0 {
		return Result{Records: []Record{}, Source: "empty", FetchedAt: c.now().UTC()}
	}
	return Result{Records: records, Source: "feishu", FetchedAt: c.now().UTC()}
}

func (c *Client) fetch(ctx context.Context) ([]Record, error) {
	if strings.TrimSpace(c.opts.AppID) == "" || strings.TrimSpace(c.opts.AppSecret) == "" {
		return nil, errors.New("app id and secret required")
	}
	if c.opts.TableID == "" {
		return nil, errors.New("table id required")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	appToken := strings.TrimSpace(c.opts.AppToken)
	if appToken == "" {
		if appToken, err = c.wikiObjectToken(ctx, token); err != nil {
			return nil, fmt.Errorf("resolve wiki node: %w", err)
		}
	}

	endpoint := c.baseURL + fmt.Sprintf(recordsPathTmpl, url.PathEscape(appToken), url.PathEscape(c.opts.TableID))
	records := make([]Record, 0)
	pageToken := ""
	for range maxPages {
		params := url.Values{"page_size": {strconv.Itoa(c.opts.PageSize)}}
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}
		var page recordsPage
		if err := c.getJSON(ctx, endpoint+"?"+params.Encode(), token, &page); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		for _, item := range page.Data.Items {
			records = append(records, normalizeRecord(item.Fields))
		}
		pageToken = page.Data.PageToken
		if !page.Data.HasMore || pageToken == "" || len(page.Data.Items) == 0 {
			break
		}
	}
	return records, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"app_id": c.opts.AppID, "app_secret": c.opts.AppSecret})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var res tokenResponse
	if err := c.do(req, &res); err != nil {
		return "", err
	}
	if res.AppAccessToken == "" {
		return "", errors.New("empty app access token")
	}
	return res.AppAccessToken, nil
}

func (c *Client) wikiObjectToken(ctx context.Context, token string) (string, error) {
	if c.opts.WikiNode == "" {
		return "", errors.New("app token or wiki node required")
	}
	endpoint := c.baseURL + wikiNodePath + "?" + url.Values{"token": {c.opts.WikiNode}}.Encode()
	var res wikiNodeResponse
	if err := c.getJSON(ctx, endpoint, token, &res); err != nil {
		return "", err
	}
	if res.Data.Node.ObjToken == "" {
		return "", errors.New("wiki node has no object token")
	}
	return res.Data.Node.ObjToken, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, token string, out apiEnvelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out apiEnvelope) error {
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "producer-risk/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if code, msg := out.status(); code != 0 {
		return fmt.Errorf("feishu api error (code %d): %s", code, msg)
	}
	return nil
}

// normalizeRecord flattens Feishu cell values to strings and fills the display fields.
func normalizeRecord(fields map[string]json.RawMessage) Record {
	rec := make(Record, len(fields)+len(displayDefaults))
	for k, raw := range fields {
		rec[k] = scalar(raw)
	}
	for _, d := range displayDefaults {
		if _, ok := rec[d.field]; ok {
			continue
		}
		value := ""
		if d.column != "" {
			value = rec[d.column]
		}
		if value == "" {
			value = d.fallback
		}
		rec[d.field] = value
	}
	return rec
}

// scalar reduces a cell to text: lists yield their first element, objects their text or name.
func scalar(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		v = list[0]
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if text, ok := t["text"]; ok {
			return fmt.Sprint(text)
		}
		if name, ok := t["name"]; ok {
			return fmt.Sprint(name)
		}
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

type apiEnvelope interface {
	status() (int, string)
}

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e envelope) status() (int, string) { return e.Code, e.Msg }

type tokenResponse struct {
	envelope
	AppAccessToken string `json:"app_access_token"`
}

type wikiNodeResponse struct {
	envelope
	Data struct {
		Node struct {
			ObjToken string `json:"obj_token"`
		} `json:"node"`
	} `json:"data"`
}

type recordsPage struct {
	envelope
	Data struct {
		Items []struct {
			Fields map[string]json.RawMessage `json:"fields"`
		} `json:"items"`
		PageToken string `json:"page_token"`
		HasMore   bool   `json:"has_more"`
	} `json:"data"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr envelope
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("feishu api error (%d): %s", status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("feishu api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feishu api error (%d)", status)
}
