package report

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Sternrassler/bitrix-report/internal/testutil"
	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
	"github.com/Sternrassler/bitrix-report/pkg/pagination"
	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
)

type listCall struct {
	Filter string
	Start  int
	Limit  int
}

// fakeLister serves total items, failing on call failAt (1-based) when set.
type fakeLister struct {
	total  int
	failAt int
	calls  []listCall
}

func (f *fakeLister) ListItems(_ context.Context, filter bitrix.Filter, start, limit int) ([]json.RawMessage, error) {
	raw, _ := filter.MarshalJSON()
	f.calls = append(f.calls, listCall{Filter: string(raw), Start: start, Limit: limit})

	if len(f.calls) == f.failAt {
		return nil, errors.New("bitrix unavailable")
	}

	items := []json.RawMessage{}
	for i := start; i < start+limit && i < f.total; i++ {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"id":%d}`, i+1)))
	}
	return items, nil
}

func TestGetReportData_Unfiltered(t *testing.T) {
	lister := &fakeLister{total: 120}
	svc := NewService(lister, pagination.DefaultConfig())

	result, err := svc.GetReportData(context.Background(), Query{})
	if err != nil {
		t.Fatalf("GetReportData() error = %v", err)
	}

	if result.Count != 120 || len(result.Items) != 120 {
		t.Errorf("Count = %d, len(Items) = %d, want 120", result.Count, len(result.Items))
	}

	want := []listCall{
		{Filter: "{}", Start: 0, Limit: 50},
		{Filter: "{}", Start: 50, Limit: 50},
		{Filter: "{}", Start: 100, Limit: 50},
	}
	if diff := cmp.Diff(want, lister.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGetReportData_FilterReachesEveryPage(t *testing.T) {
	lister := &fakeLister{total: 60}
	svc := NewService(lister, pagination.DefaultConfig())

	_, err := svc.GetReportData(context.Background(), Query{DateFrom: "2024-01-01", EmployeeID: "42"})
	if err != nil {
		t.Fatalf("GetReportData() error = %v", err)
	}

	for i, c := range lister.calls {
		if c.Filter != `{">=createdTime":"2024-01-01","=assignedById":"42"}` {
			t.Errorf("call %d filter = %s", i, c.Filter)
		}
	}
}

func TestGetReportData_CountMatchesItems(t *testing.T) {
	for _, total := range []int{0, 1, 49, 50, 51, 1500, 2000} {
		t.Run(fmt.Sprint(total), func(t *testing.T) {
			svc := NewService(&fakeLister{total: total}, pagination.Config{})

			result, err := svc.GetReportData(context.Background(), Query{})
			if err != nil {
				t.Fatalf("GetReportData() error = %v", err)
			}
			if result.Count != len(result.Items) {
				t.Errorf("Count = %d, len(Items) = %d", result.Count, len(result.Items))
			}
			if result.Count > pagination.DefaultLimit {
				t.Errorf("Count = %d exceeds limit", result.Count)
			}
			if result.Items == nil {
				t.Error("Items should never be nil")
			}
		})
	}
}

func TestGetReportData_NoPartialResult(t *testing.T) {
	lister := &fakeLister{total: 500, failAt: 3}
	svc := NewService(lister, pagination.DefaultConfig())

	result, err := svc.GetReportData(context.Background(), Query{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if result.Items != nil || result.Count != 0 {
		t.Errorf("result = %+v, want zero value", result)
	}
	if len(lister.calls) != 3 {
		t.Errorf("calls = %d, want 3 (no retry, no further pages)", len(lister.calls))
	}
}

func TestFetchItems_CustomLimit(t *testing.T) {
	svc := NewService(&fakeLister{total: 500}, pagination.DefaultConfig())

	items, err := svc.FetchItems(context.Background(), bitrix.Filter{}, 75)
	if err != nil {
		t.Fatalf("FetchItems() error = %v", err)
	}
	if len(items) != 75 {
		t.Errorf("len(items) = %d, want 75", len(items))
	}
}

func TestGetReportData_WithBitrixClient(t *testing.T) {
	mock := testutil.NewMockBitrix()
	defer mock.Close()
	mock.SetItemCount(5000)

	client, err := bitrix.New(bitrix.DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("bitrix.New() error = %v", err)
	}

	result, err := NewService(client, pagination.DefaultConfig()).GetReportData(context.Background(), Query{ProjectName: "Alpha"})
	if err != nil {
		t.Fatalf("GetReportData() error = %v", err)
	}

	if result.Count != 1500 {
		t.Errorf("Count = %d, want 1500", result.Count)
	}
	if mock.RequestCount() != 30 {
		t.Errorf("RequestCount() = %d, want 30", mock.RequestCount())
	}

	for i, req := range mock.Requests() {
		if req.Start != i*50 || req.Limit != 50 || req.EntityTypeID != bitrix.DefaultEntityTypeID {
			t.Errorf("request %d = %+v", i, req)
		}
		if req.Filter["=ufCrm87_1764265641"] != "Alpha" {
			t.Errorf("request %d filter = %v", i, req.Filter)
		}
	}
}
