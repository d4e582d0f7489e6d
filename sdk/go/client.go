package pdfcpsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal PDFCP HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Program represents the API program model (partial).
type Program struct {
	ID               string  `json:"id"`
	Code             string  `json:"code"`
	Title            string  `json:"title"`
	YearStart        int     `json:"year_start"`
	YearEnd          int     `json:"year_end"`
	CommuneID        string  `json:"commune_id,omitempty"`
	TotalBudget      float64 `json:"total_budget"`
	ValidationStatus string  `json:"validation_status"`
	Locked           bool    `json:"locked"`
	Archived         bool    `json:"archived"`
}

// Line is an action line on one layer.
type Line struct {
	ID                     string   `json:"id,omitempty"`
	Layer                  string   `json:"layer"`
	CommuneID              string   `json:"commune_id,omitempty"`
	PerimetreID            string   `json:"perimetre_id,omitempty"`
	SiteID                 string   `json:"site_id,omitempty"`
	ActionKey              string   `json:"action_key"`
	Year                   int      `json:"year"`
	Unit                   string   `json:"unit,omitempty"`
	Quantity               float64  `json:"quantity,omitempty"`
	Budget                 float64  `json:"budget,omitempty"`
	Lineage                string   `json:"lineage,omitempty"`
	DeviationJustification string   `json:"deviation_justification,omitempty"`
	ExecutionStatus        string   `json:"execution_status,omitempty"`
	ProofRefs              []string `json:"proof_refs,omitempty"`
	Locked                 bool     `json:"locked,omitempty"`
}

// GenerateResult lists the copies made and the sources left out.
type GenerateResult struct {
	Created []Line `json:"created"`
	Skipped []struct {
		SourceID string `json:"source_id"`
		Rule     string `json:"rule"`
	} `json:"skipped,omitempty"`
}

// Totals is one layer's quantity and budget sums.
type Totals struct {
	Quantity float64 `json:"quantity"`
	Budget   float64 `json:"budget"`
}

// Row is one aggregated reconciliation row (partial).
type Row struct {
	ActionKey string `json:"action_key"`
	Year      int    `json:"year"`
	Label     string `json:"label"`
	Unit      string `json:"unit"`
	Layers    struct {
		Concerted  Totals `json:"concerted"`
		Contracted Totals `json:"contracted"`
		Executed   Totals `json:"executed"`
	} `json:"layers"`
	Metrics struct {
		ExecRate *int `json:"exec_rate"`
	} `json:"metrics"`
	HasAlert bool     `json:"has_alert"`
	AlertIDs []string `json:"alert_ids,omitempty"`
}

// Reconciliation is the read model returned by Reconcile.
type Reconciliation struct {
	Program Program `json:"program"`
	Result  struct {
		Grouping   string `json:"grouping"`
		Rows       []Row  `json:"rows"`
		GrandTotal Row    `json:"grand_total"`
	} `json:"result"`
	GeneratedAt string `json:"generated_at"`
}

// Alert is a field alert.
type Alert struct {
	ID         string `json:"id,omitempty"`
	CommuneID  string `json:"commune_id,omitempty"`
	ActionType string `json:"action_type,omitempty"`
	Year       *int   `json:"year,omitempty"`
	Status     string `json:"status,omitempty"`
	Title      string `json:"title,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProgram creates a program in BROUILLON.
func (c *Client) CreateProgram(ctx context.Context, code, title string, yearStart, yearEnd int) (Program, error) {
	body := map[string]any{
		"code":       code,
		"title":      title,
		"year_start": yearStart,
		"year_end":   yearEnd,
	}
	var resp Program
	err := c.do(ctx, http.MethodPost, "programs", body, &resp)
	return resp, err
}

// GetProgram fetches a program by id or code.
func (c *Client) GetProgram(ctx context.Context, ref string) (Program, error) {
	var resp struct {
		Program Program `json:"program"`
	}
	err := c.do(ctx, http.MethodGet, c.programPath(ref, ""), nil, &resp)
	return resp.Program, err
}

// AddLine adds an action line.
func (c *Client) AddLine(ctx context.Context, program string, line Line) (Line, error) {
	var resp Line
	err := c.do(ctx, http.MethodPost, c.programPath(program, "lines"), line, &resp)
	return resp, err
}

// Lines lists action lines, optionally for one layer.
func (c *Client) Lines(ctx context.Context, program, layer string) ([]Line, error) {
	endpoint := c.programPath(program, "lines")
	if layer != "" {
		endpoint += "?layer=" + url.QueryEscape(layer)
	}
	var resp []Line
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Generate copies source lines into target.
func (c *Client) Generate(ctx context.Context, program, source, target string) (GenerateResult, error) {
	body := map[string]any{"source": source, "target": target}
	var resp GenerateResult
	err := c.do(ctx, http.MethodPost, c.programPath(program, "generate"), body, &resp)
	return resp, err
}

// Transition moves the program to target. An empty expected skips the
// staleness check.
func (c *Client) Transition(ctx context.Context, program, expected, target, note string) (Program, error) {
	body := map[string]any{"target": target}
	if expected != "" {
		body["expected"] = expected
	}
	if note != "" {
		body["note"] = note
	}
	var resp Program
	err := c.do(ctx, http.MethodPost, c.programPath(program, "transition"), body, &resp)
	return resp, err
}

// Unlock reopens a locked program.
func (c *Client) Unlock(ctx context.Context, program, justification string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, c.programPath(program, "unlock"), map[string]any{"justification": justification}, &resp)
	return resp, err
}

// Cancel steps the program back one level.
func (c *Client) Cancel(ctx context.Context, program, reason string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, c.programPath(program, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Reconcile returns the aggregated layers.
func (c *Client) Reconcile(ctx context.Context, program string, yearFrom, yearTo int) (Reconciliation, error) {
	q := url.Values{}
	if yearFrom > 0 {
		q.Set("year_from", fmt.Sprint(yearFrom))
	}
	if yearTo > 0 {
		q.Set("year_to", fmt.Sprint(yearTo))
	}
	endpoint := c.programPath(program, "reconciliation")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Reconciliation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Export downloads the reconciliation as "csv" or "xlsx".
func (c *Client) Export(ctx context.Context, program, format string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, c.programPath(program, "export."+format), nil, &buf)
	return buf.Bytes(), err
}

// CreateAlert records a field alert.
func (c *Client) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	var resp Alert
	err := c.do(ctx, http.MethodPost, "alerts", a, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	switch w := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err = io.Copy(w, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) programPath(ref, p string) string {
	endpoint := "programs/" + url.PathEscape(ref)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
