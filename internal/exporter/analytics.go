// Package exporter renders analytics reports as downloadable spreadsheets
// for operators who want the dashboard feed offline.
package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"licensegate/internal/license"
)

const (
	sheetLicenses    = "Licenses"
	sheetPerformance = "Performance"
	sheetUsage       = "Usage"
)

// WriteAnalyticsXLSX renders an analytics report as an XLSX workbook with
// one sheet per rollup section. Nil sections (partial reports) produce an
// empty sheet rather than an error.
func WriteAnalyticsXLSX(report *license.AnalyticsReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetLicenses); err != nil {
		return fmt.Errorf("failed to name licenses sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Generated At", report.GeneratedAt.Format("2006-01-02 15:04:05")},
		{},
		{"Metric", "Value"},
	}
	if stats := report.LicenseStats; stats != nil {
		rows = append(rows,
			[]interface{}{"Total Licenses", stats.Total},
			[]interface{}{"Active Licenses", stats.Active},
			[]interface{}{"Activated (Bound)", stats.Activated},
			[]interface{}{"Expired Licenses", stats.Expired},
		)
	}
	if err := writeRows(f, sheetLicenses, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetPerformance); err != nil {
		return fmt.Errorf("failed to create performance sheet: %w", err)
	}
	perfRows := [][]interface{}{{"Metric", "Value"}}
	if stats := report.PerformanceStats; stats != nil {
		perfRows = append(perfRows,
			[]interface{}{"Samples", stats.SampleCount},
			[]interface{}{"Avg Execution Time (ms)", stats.AvgExecutionTime},
			[]interface{}{"Avg Memory (MB)", stats.AvgMemoryMB},
			[]interface{}{"Avg Query Count", stats.AvgQueryCount},
			[]interface{}{"Total Slow Queries", stats.TotalSlowQueries},
			[]interface{}{"Total Errors", stats.TotalErrors},
		)
	}
	if err := writeRows(f, sheetPerformance, perfRows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetUsage); err != nil {
		return fmt.Errorf("failed to create usage sheet: %w", err)
	}
	usageRows := [][]interface{}{{"Metric", "Value"}}
	if stats := report.UsageStats; stats != nil {
		usageRows = append(usageRows,
			[]interface{}{"Samples", stats.SampleCount},
			[]interface{}{"Avg Active Users", stats.AvgActiveUsers},
			[]interface{}{"Total Applications", stats.TotalApplications},
			[]interface{}{"New Applications", stats.NewApplications},
			[]interface{}{"Avg Storage (MB)", stats.AvgStorageMB},
			[]interface{}{"Avg Bandwidth (MB)", stats.AvgBandwidthMB},
		)
	}
	if err := writeRows(f, sheetUsage, usageRows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", i+1, sheet, err)
		}
	}
	return nil
}
