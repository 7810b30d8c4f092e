package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sternrassler/bitrix-report/internal/testutil"
	"github.com/Sternrassler/bitrix-report/pkg/report"
	"github.com/Sternrassler/bitrix-report/pkg/server"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
)

type fakeReports struct {
	result report.Result
	err    error
	got    report.Query
}

func (f *fakeReports) GetReportData(_ context.Context, q report.Query) (report.Result, error) {
	f.got = q
	return f.result, f.err
}

func rawItems(t *testing.T, n int) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, n)
	for _, item := range testutil.GenerateItems(n) {
		raw, err := json.Marshal(item)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, raw)
	}
	return out
}

func TestReportFilter_Values(t *testing.T) {
	tests := []struct {
		name   string
		filter ReportFilter
		want   string
	}{
		{"empty", ReportFilter{}, ""},
		{"date range", ReportFilter{DateFrom: "2024-01-01", DateTo: "2024-01-31"}, "dateFrom=2024-01-01&dateTo=2024-01-31"},
		{"all", ReportFilter{DateFrom: "a", DateTo: "b", EmployeeID: "42", ProjectName: "Alpha Beta"}, "dateFrom=a&dateTo=b&employeeId=42&projectName=Alpha+Beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Values().Encode(); got != tt.want {
				t.Errorf("Values().Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_FetchReportData(t *testing.T) {
	reports := &fakeReports{result: report.Result{Items: rawItems(t, 3), Count: 3}}
	srv := httptest.NewServer(server.New(reports, nil).Routes())
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)

	resp, err := c.FetchReportData(context.Background(), ReportFilter{EmployeeID: "42", ProjectName: "Internal"})
	if err != nil {
		t.Fatalf("FetchReportData() error = %v", err)
	}

	if resp.Count != 3 || len(resp.Items) != 3 {
		t.Fatalf("Count = %d, len(Items) = %d, want 3", resp.Count, len(resp.Items))
	}

	want := ReportItem{
		ID:              1,
		TaskID:          "T-1",
		TaskName:        "Task 1",
		ProjectName:     "Internal",
		HierarchyIDs:    []string{"1", "1"},
		HierarchyTitles: []string{"Root", "Task 1"},
		Hours:           1.5,
		Type:            ItemTypeBillable,
		Date:            "2024-01-15",
		EmployeeID:      "42",
	}
	if diff := cmp.Diff(want, resp.Items[0]); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}
	if !resp.Items[0].Billable() {
		t.Error("Billable() = false, want true")
	}

	if diff := cmp.Diff(report.Query{EmployeeID: "42", ProjectName: "Internal"}, reports.got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_FetchReportData_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(server.New(&fakeReports{}, nil).Routes())
	defer srv.Close()

	resp, err := NewClient(srv.URL, nil).FetchReportData(context.Background(), ReportFilter{})
	if err != nil {
		t.Fatalf("FetchReportData() error = %v", err)
	}
	if resp.Items == nil || len(resp.Items) != 0 || resp.Count != 0 {
		t.Errorf("resp = %+v, want empty non-nil items", resp)
	}
}

func TestClient_FetchReportData_EndpointError(t *testing.T) {
	srv := httptest.NewServer(server.New(&fakeReports{err: errors.New("bitrix unavailable")}, nil).Routes())
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).FetchReportData(context.Background(), ReportFilter{})

	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected *EndpointError, got %T: %v", err, err)
	}
	if endpointErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", endpointErr.StatusCode)
	}
	if endpointErr.Message != "bitrix unavailable" {
		t.Errorf("Message = %q", endpointErr.Message)
	}
	if endpointErr.File == "" || endpointErr.Line <= 0 {
		t.Errorf("source = %s:%d, want a location", endpointErr.File, endpointErr.Line)
	}
}

func TestClient_FetchReportData_UndecodableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).FetchReportData(context.Background(), ReportFilter{})

	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected *EndpointError, got %T: %v", err, err)
	}
	if endpointErr.Message != "" {
		t.Errorf("Message = %q, want empty", endpointErr.Message)
	}
	if got := endpointErr.Error(); got != "report endpoint returned status 502" {
		t.Errorf("Error() = %q", got)
	}
}

func TestClient_FetchReportData_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).FetchReportData(context.Background(), ReportFilter{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		t.Error("transport failure should not be an EndpointError")
	}
}
