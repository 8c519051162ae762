package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the promozone error body.
type apiError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// collectResponse mirrors POST /api/v1/collect.
type collectResponse struct {
	RunID                string   `json:"run_id"`
	CrawlID              string   `json:"crawl_id"`
	Status               string   `json:"status"`
	Message              string   `json:"message"`
	Sources              []string `json:"sources"`
	EstimatedTimeSeconds float64  `json:"estimated_time_seconds"`
}

// runState mirrors GET /api/v1/collect/:id.
type runState struct {
	RunID            string `json:"run_id"`
	CrawlID          string `json:"crawl_id"`
	Status           string `json:"status"`
	SourcesProcessed int    `json:"sources_processed"`
	PagesFetched     int    `json:"pages_fetched"`
	TotalCollected   int    `json:"total_collected"`
	Inserted         *int   `json:"inserted"`
	Duplicates       *int   `json:"duplicates"`
	InsertErrors     *int   `json:"insert_errors"`
	Error            string `json:"error_message"`
}

// client talks to a promozone API server.
type client struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func main() {
	apiURL := os.Getenv("PROMOZONE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8000"
	}
	c := &client{
		http:   &http.Client{Timeout: 30 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: os.Getenv("PROMOZONE_API_KEY"),
	}

	s := server.NewMCPServer(
		"promozone",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("submit_collection",
		mcp.WithDescription("Start a background collection of marketplace promotions for one or more search terms. Returns a run id; poll get_collection for the result."),
		mcp.WithArray("sources",
			mcp.Required(),
			mcp.Description("Search terms to collect, e.g. [\"fone bluetooth\", \"smart tv\"]"),
		),
		mcp.WithNumber("limit_per_source",
			mcp.Description("Records kept per term (default: 100, max: 500)"),
		),
		mcp.WithNumber("max_pages_per_source",
			mcp.Description("Search pages fetched per term (default: 3, max: 10)"),
		),
		mcp.WithNumber("delay_between_requests",
			mcp.Description("Seconds between requests (default: 1.5, range 0.5-5)"),
		),
		mcp.WithBoolean("persist",
			mcp.Description("Load records into the warehouse (default: true)"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the run finishes and return its final state"),
		),
	), c.handleSubmit)

	s.AddTool(mcp.NewTool("get_collection",
		mcp.WithDescription("Get the state of a collection run."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by submit_collection")),
	), c.handleGet)

	s.AddTool(mcp.NewTool("cancel_collection",
		mcp.WithDescription("Cancel a collection run in progress."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id returned by submit_collection")),
	), c.handleCancel)

	s.AddTool(mcp.NewTool("recent_products",
		mcp.WithDescription("List products stored in the warehouse during the last hours."),
		mcp.WithNumber("hours", mcp.Description("Look-back window in hours (default: 24)")),
		mcp.WithNumber("limit", mcp.Description("Maximum products returned (default: 20)")),
	), c.handleRecent)

	s.AddTool(mcp.NewTool("warehouse_stats",
		mcp.WithDescription("Summarize the warehouse: total products, unique items, runs, average price and products on sale."),
	), c.handleStats)

	s.AddTool(mcp.NewTool("service_health",
		mcp.WithDescription("Report the health of the crawler and the warehouse."),
	), c.handleHealth)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do sends a request to the API and returns the body of a 2xx response.
// Other statuses become an error carrying the API error code.
func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(respBody, &e) == nil && e.Error != nil {
			return nil, fmt.Errorf("[%s] %s", e.Error.Code, e.Error.Message)
		}
		return nil, fmt.Errorf("API returned %s", resp.Status)
	}
	return respBody, nil
}

func (c *client) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources, err := request.RequireStringSlice("sources")
	if err != nil || len(sources) == 0 {
		return mcp.NewToolResultError("sources is required and must be a non-empty array of strings"), nil
	}

	payload := map[string]any{"sources": sources}
	args := request.GetArguments()
	for _, k := range []string{"limit_per_source", "max_pages_per_source", "delay_between_requests", "persist"} {
		if v, ok := args[k]; ok {
			payload[k] = v
		}
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/collect", payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("collect request failed: %v", err)), nil
	}
	var sub collectResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse collect response: %v", err)), nil
	}

	if !request.GetBool("wait", false) {
		return mcp.NewToolResultText(fmt.Sprintf("Run %s started (execution %s) for %s.\nEstimated time: %.0fs.",
			sub.RunID, sub.CrawlID, strings.Join(sub.Sources, ", "), sub.EstimatedTimeSeconds)), nil
	}

	state, err := c.pollRun(ctx, sub.RunID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("polling run %s failed: %v", sub.RunID, err)), nil
	}
	return mcp.NewToolResultText(formatRun(state)), nil
}

// pollRun polls a run until it leaves the started state or ctx is cancelled.
func (c *client) pollRun(ctx context.Context, runID string) (runState, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return runState{}, ctx.Err()
		case <-ticker.C:
			state, err := c.getRun(ctx, runID)
			if err != nil {
				return runState{}, err
			}
			if state.Status != "started" {
				return state, nil
			}
		}
	}
}

func (c *client) getRun(ctx context.Context, runID string) (runState, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/collect/"+url.PathEscape(runID), nil)
	if err != nil {
		return runState{}, err
	}
	var state runState
	if err := json.Unmarshal(body, &state); err != nil {
		return runState{}, fmt.Errorf("parse run state: %w", err)
	}
	return state, nil
}

func (c *client) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	state, err := c.getRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRun(state)), nil
}

func (c *client) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/collect/"+url.PathEscape(runID), nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("cancel requested for run " + runID), nil
}

func (c *client) handleRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := url.Values{}
	q.Set("hours", fmt.Sprint(request.GetInt("hours", 24)))
	q.Set("limit", fmt.Sprint(request.GetInt("limit", 20)))

	body, err := c.do(ctx, http.MethodGet, "/api/v1/products/recent?"+q.Encode(), nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp struct {
		Hours    int `json:"hours"`
		Count    int `json:"count"`
		Products []struct {
			ItemID          string  `json:"item_id"`
			Title           string  `json:"title"`
			Price           string  `json:"price"`
			DiscountPercent *string `json:"discount_percent"`
			URL             string  `json:"url"`
		} `json:"products"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse products: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d products in the last %dh:\n\n", resp.Count, resp.Hours)
	for _, p := range resp.Products {
		fmt.Fprintf(&sb, "- %s  %s  R$ %s", p.ItemID, p.Title, p.Price)
		if p.DiscountPercent != nil {
			fmt.Fprintf(&sb, " (-%s%%)", *p.DiscountPercent)
		}
		fmt.Fprintf(&sb, "\n  %s\n", p.URL)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (c *client) handleStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.passthrough(ctx, "/api/v1/products/stats")
}

func (c *client) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.passthrough(ctx, "/api/v1/health")
}

// passthrough returns the indented JSON body of a GET endpoint.
func (c *client) passthrough(ctx context.Context, path string) (*mcp.CallToolResult, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		pretty.Write(body)
	}
	return mcp.NewToolResultText(pretty.String()), nil
}

func formatRun(s runState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s (execution %s): %s\n", s.RunID, s.CrawlID, s.Status)
	fmt.Fprintf(&sb, "Sources: %d  Pages: %d  Collected: %d\n", s.SourcesProcessed, s.PagesFetched, s.TotalCollected)
	if s.Inserted != nil {
		fmt.Fprintf(&sb, "Inserted: %d  Duplicates: %d  Insert errors: %d\n", *s.Inserted, deref(s.Duplicates), deref(s.InsertErrors))
	}
	if s.Error != "" {
		fmt.Fprintf(&sb, "Error: %s\n", s.Error)
	}
	return sb.String()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
