package http

import (
	"fmt"
	"net/http"
	"time"

	"licensegate/internal/exporter"
)

// AnalyticsExport handles GET /analytics/export, streaming the current
// analytics report as an XLSX workbook.
func (h *LicenseHandler) AnalyticsExport(w http.ResponseWriter, r *http.Request) {
	report := h.service.Analytics(r.Context())

	filename := fmt.Sprintf("license-analytics-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := exporter.WriteAnalyticsXLSX(report, w); err != nil {
		// Headers are already sent; all we can do is log.
		h.logger.ErrorContext(r.Context(), "analytics export failed", "error", err.Error())
	}
}
