package qbo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ReportSpec describes one financial report endpoint. Reports are GET
// requests with query parameters rather than entity queries, and their
// payloads arrive as nested Header/Columns/Rows structures.
type ReportSpec struct {
	// Name identifies the report in logs and as the load target suffix,
	// e.g. "ProfitAndLossCash" loads report_profit_and_loss_cash.
	Name string
	// Path is the endpoint under the company base URL.
	Path string
	// PointInTime marks snapshot reports that take a single as-of date
	// instead of a start/end range.
	PointInTime bool
	// Params are the report's fixed defaults.
	Params url.Values
}

// Reports lists every report endpoint the pipeline pulls each run.
var Reports = []ReportSpec{
	{
		Name: "ProfitAndLoss",
		Path: "/reports/ProfitAndLoss",
		Params: url.Values{
			"accounting_method":   {"Accrual"},
			"summarize_column_by": {"Month"},
		},
	},
	{
		Name: "ProfitAndLossCash",
		Path: "/reports/ProfitAndLoss",
		Params: url.Values{
			"accounting_method":   {"Cash"},
			"summarize_column_by": {"Month"},
		},
	},
	{
		Name:        "BalanceSheet",
		Path:        "/reports/BalanceSheet",
		PointInTime: true,
		Params:      url.Values{"accounting_method": {"Accrual"}},
	},
	{
		Name:   "CashFlow",
		Path:   "/reports/CashFlow",
		Params: url.Values{"summarize_column_by": {"Month"}},
	},
	{
		Name: "AgedReceivables",
		Path: "/reports/AgedReceivables",
		Params: url.Values{
			"aging_period": {"30"},
			"num_periods":  {"4"},
		},
	},
	{
		Name: "AgedReceivableDetail",
		Path: "/reports/AgedReceivableDetail",
		Params: url.Values{
			"aging_period": {"30"},
			"num_periods":  {"4"},
		},
	},
	{
		Name: "AgedPayables",
		Path: "/reports/AgedPayables",
		Params: url.Values{
			"aging_period": {"30"},
			"num_periods":  {"4"},
		},
	},
	{
		Name: "AgedPayableDetail",
		Path: "/reports/AgedPayableDetail",
		Params: url.Values{
			"aging_period": {"30"},
			"num_periods":  {"4"},
		},
	},
	{
		Name: "TrialBalance",
		Path: "/reports/TrialBalance",
	},
}

// ReportByName looks up a report spec by name.
func ReportByName(name string) (ReportSpec, error) {
	for _, spec := range Reports {
		if spec.Name == name {
			return spec, nil
		}
	}
	return ReportSpec{}, fmt.Errorf("unknown report %q", name)
}

// FetchReport pulls one report for the given period. A zero start defaults to
// January 1 of the end date's year; a zero end defaults to today. Point-in-
// time reports receive only the end date.
func (c *Client) FetchReport(ctx context.Context, spec ReportSpec, start, end time.Time) (map[string]any, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, end.Location())
	}

	params := url.Values{}
	for k, vs := range spec.Params {
		params[k] = vs
	}
	if spec.PointInTime {
		params.Set("date", end.Format("2006-01-02"))
	} else {
		params.Set("start_date", start.Format("2006-01-02"))
		params.Set("end_date", end.Format("2006-01-02"))
	}

	c.log.Info().Str("report", spec.Name).Msg("fetching report")
	body, err := c.request(ctx, http.MethodGet, spec.Path, params, nil, "")
	if err != nil {
		return nil, err
	}

	var report map[string]any
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", spec.Name, err)
	}
	return report, nil
}
