// Package report turns report queries into Bitrix24 smart process fetches.
package report

import (
	"net/url"

	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
)

// Smart process fields used by report filters.
const (
	FieldCreatedTime  = "createdTime"
	FieldAssignedByID = "assignedById"
	FieldProjectName  = "ufCrm87_1764265641"
)

// Query parameter names accepted by the report endpoint.
const (
	ParamDateFrom    = "dateFrom"
	ParamDateTo      = "dateTo"
	ParamEmployeeID  = "employeeId"
	ParamProjectName = "projectName"
)

// Query holds the optional report filter inputs. Empty means absent.
type Query struct {
	DateFrom    string
	DateTo      string
	EmployeeID  string
	ProjectName string
}

// QueryFromValues reads a Query from URL query parameters.
func QueryFromValues(v url.Values) Query {
	return Query{
		DateFrom:    v.Get(ParamDateFrom),
		DateTo:      v.Get(ParamDateTo),
		EmployeeID:  v.Get(ParamEmployeeID),
		ProjectName: v.Get(ParamProjectName),
	}
}

// BuildFilter maps q to a crm.item.list filter. Each present input adds exactly one
// entry; values are passed through unvalidated. Project names match exactly.
func BuildFilter(q Query) bitrix.Filter {
	var f bitrix.Filter

	if q.DateFrom != "" {
		f.Where(bitrix.OpGreaterOrEqual, FieldCreatedTime, q.DateFrom)
	}
	if q.DateTo != "" {
		f.Where(bitrix.OpLessOrEqual, FieldCreatedTime, q.DateTo)
	}
	if q.EmployeeID != "" {
		f.Where(bitrix.OpEqual, FieldAssignedByID, q.EmployeeID)
	}
	if q.ProjectName != "" {
		f.Where(bitrix.OpEqual, FieldProjectName, q.ProjectName)
	}

	return f
}
