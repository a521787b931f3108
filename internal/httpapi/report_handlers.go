package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// defaultReportDays — длина диапазона дашборда, если даты не переданы.
const defaultReportDays = 7

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	orders, err := h.sales.PendingOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.PendingOrder{}
	}
	respondData(w, http.StatusOK, "", orders)
}

func (h *Handler) syncPending(w http.ResponseWriter, r *http.Request) {
	report, err := h.sales.SyncPendingOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", report)
}

func (h *Handler) drainNotifications(w http.ResponseWriter, _ *http.Request) {
	notifications := []domain.Notification{}
	if h.notifications != nil {
		if drained := h.notifications.Drain(); drained != nil {
			notifications = drained
		}
	}
	respondData(w, http.StatusOK, "", notifications)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondData(w, http.StatusOK, "", []domain.Product{})
		return
	}
	products, err := h.catalog.Products(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", products)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		respondData(w, http.StatusOK, "", []domain.Customer{})
		return
	}
	customers, err := h.catalog.Customers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", customers)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusNotFound, "not_found", "analytics is not configured")
		return
	}
	dr, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	d, err := h.analytics.Dashboard(r.Context(), dr)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", d)
}

func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	if h.analytics == nil {
		respondError(w, http.StatusNotFound, "not_found", "analytics is not configured")
		return
	}
	dr, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	chart, err := h.analytics.SalesChart(r.Context(), dr)
	if err != nil {
		writeError(w, err)
		return
	}
	respondData(w, http.StatusOK, "", chart)
}

// dateRange читает start/end (YYYY-MM-DD). Без параметров берётся последняя неделя.
func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) (domain.DateRange, bool) {
	q := r.URL.Query()
	end := h.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -(defaultReportDays - 1))

	if raw := strings.TrimSpace(q.Get("end")); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_date", "end must be formatted as YYYY-MM-DD")
			return domain.DateRange{}, false
		}
		end = parsed
		start = end.AddDate(0, 0, -(defaultReportDays - 1))
	}
	if raw := strings.TrimSpace(q.Get("start")); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_date", "start must be formatted as YYYY-MM-DD")
			return domain.DateRange{}, false
		}
		start = parsed
	}
	return domain.DateRange{Start: start, End: end}, true
}
