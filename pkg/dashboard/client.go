// Package dashboard is the consumer side of the report endpoint: a typed client
// and the state container the dashboard renders from.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/bitrix-report/pkg/logging"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Hours categories reported by the smart process.
const (
	ItemTypeBillable    = "Учитываемые"
	ItemTypeNonBillable = "Неучитываемые"
)

// ReportFilter holds the optional report filter inputs. Empty means absent.
type ReportFilter struct {
	DateFrom    string `json:"dateFrom,omitempty"`
	DateTo      string `json:"dateTo,omitempty"`
	EmployeeID  string `json:"employeeId,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
}

// Values encodes the present inputs as endpoint query parameters.
func (f ReportFilter) Values() url.Values {
	v := url.Values{}
	if f.DateFrom != "" {
		v.Set("dateFrom", f.DateFrom)
	}
	if f.DateTo != "" {
		v.Set("dateTo", f.DateTo)
	}
	if f.EmployeeID != "" {
		v.Set("employeeId", f.EmployeeID)
	}
	if f.ProjectName != "" {
		v.Set("projectName", f.ProjectName)
	}
	return v
}

// ReportItem is one row of the report as the dashboard consumes it.
type ReportItem struct {
	ID              int      `json:"id"`
	TaskID          string   `json:"taskId"`
	TaskName        string   `json:"taskName"`
	ProjectName     string   `json:"projectName"`
	HierarchyIDs    []string `json:"hierarchyIds"`
	HierarchyTitles []string `json:"hierarchyTitles"`
	Hours           float64  `json:"hours"`
	Type            string   `json:"type"`
	Date            string   `json:"date"`
	EmployeeID      string   `json:"employeeId"`
}

// Billable reports whether the item's hours count towards billing.
func (i ReportItem) Billable() bool {
	return i.Type == ItemTypeBillable
}

// ReportResponse is the success body of the report endpoint.
type ReportResponse struct {
	Items []ReportItem `json:"items"`
	Count int          `json:"count"`
}

// EndpointError is a non-200 answer of the report endpoint.
type EndpointError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Type       string `json:"type"`
	File       string `json:"file"`
	Line       int    `json:"line"`
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("report endpoint returned status %d", e.StatusCode)
}

// Client calls the report endpoint of a running report server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the server at baseURL (e.g. "http://localhost:8080").
// A nil httpClient uses a client with a 60s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logging.NewLogger("dashboard-client"),
	}
}

// FetchReportData requests the report rows matching filter.
func (c *Client) FetchReportData(ctx context.Context, filter ReportFilter) (*ReportResponse, error) {
	target := c.baseURL + "/api/reports/data"
	if q := filter.Values().Encode(); q != "" {
		target += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create report request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch report data")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		endpointErr := &EndpointError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(endpointErr); err != nil {
			c.logger.Debug().Err(err).Int("status", resp.StatusCode).Msg("Undecodable error body")
		}
		endpointErr.StatusCode = resp.StatusCode

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error", endpointErr.Message).
			Str("type", endpointErr.Type).
			Msg("Report endpoint failed")
		return nil, errors.WithStack(endpointErr)
	}

	var out ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode report data")
	}
	if out.Items == nil {
		out.Items = []ReportItem{}
	}

	return &out, nil
}
