package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/service"
)

const shiftsPrefix = "/api/v1/shifts/"

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftOpenRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.OpenShift(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	userID := r.URL.Query().Get("user_id")
	outletID := r.URL.Query().Get("outlet_id")
	shift, err := a.service.GetActiveShift(r.Context(), userID, outletID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleShifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter, err := parseShiftFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page := parsePositiveLimit(r.URL.Query().Get("page"), 1, 0)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), service.DefaultPageLimit, service.MaxPageLimit)

	resp, err := a.service.ListShifts(r.Context(), filter, page, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleShiftStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter, err := parseShiftFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := a.service.ComputeStats(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleTopPerformers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter, err := parseShiftFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	performers, err := a.service.TopPerformers(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.TopPerformerResponse{Performers: performers})
}

// handleShiftActions serves /api/v1/shifts/{id} and its sub-resources.
func (a *API) handleShiftActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, shiftsPrefix), "/")
	parts := strings.Split(rest, "/")
	shiftID := strings.TrimSpace(parts[0])
	if shiftID == "" || len(parts) > 2 {
		writeError(w, http.StatusNotFound, errors.New("unknown shift resource"))
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		a.handleShiftGet(w, r, shiftID)
	case "sales":
		a.handleShiftSale(w, r, shiftID)
	case "cash-movements":
		a.handleShiftCashMovements(w, r, shiftID)
	case "close":
		a.handleShiftClose(w, r, shiftID)
	case "approve":
		a.handleShiftApprove(w, r, shiftID)
	case "report":
		a.handleShiftReport(w, r, shiftID)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown shift resource"))
	}
}

func (a *API) handleShiftGet(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	shift, err := a.service.GetShift(r.Context(), shiftID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleShiftSale(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.SalePostRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shift, err := a.service.PostSale(r.Context(), shiftID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleShiftCashMovements(w http.ResponseWriter, r *http.Request, shiftID string) {
	switch r.Method {
	case http.MethodGet:
		movements, err := a.service.ListMovements(r.Context(), shiftID)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.CashMovementListResponse{Movements: movements})
	case http.MethodPost:
		var req domain.CashMovementRequest
		if err := a.decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		shift, err := a.service.PostCashMovement(r.Context(), shiftID, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftCloseRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CloseShift(r.Context(), shiftID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleShiftApprove lets a supervisor approve under their own identity. A
// cashier terminal must name the manager and supply the manager PIN.
func (a *API) handleShiftApprove(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ShiftApproveRequest
	if err := a.decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	actor, _ := service.ActorFromContext(ctx)
	managerID := actor.Username
	if !actor.Supervisor() {
		managerID = strings.ToLower(strings.TrimSpace(req.ManagerID))
		if managerID == "" {
			writeError(w, http.StatusBadRequest, errors.New("manager_id required"))
			return
		}
		if !a.pinLimiter.Allow("pin:approve:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
		if !a.auth.HasRole(ctx, managerID, domain.RoleManager, domain.RoleAdmin) {
			writeError(w, http.StatusForbidden, errors.New("manager_id is not an active manager"))
			return
		}
		ctx = service.WithManagerPIN(ctx)
	}

	shift, err := a.service.ApproveShift(ctx, shiftID, managerID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ShiftResponse{Shift: shift})
}

func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request, shiftID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	report, err := a.service.ShiftReport(r.Context(), shiftID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	switch format {
	case "csv":
		body, err := shiftReportToCSV(report)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=\"shift-report-"+report.Shift.ID+".csv\"")
		_, _ = w.Write(body)
	case "html", "pdf":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(shiftReportToPrintableHTML(report)))
	case "", "json":
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, csv or html"))
	}
}

// parseShiftFilter reads history filters. Dates are YYYY-MM-DD in UTC and
// end_date includes the whole day.
func parseShiftFilter(r *http.Request) (domain.ShiftFilter, error) {
	query := r.URL.Query()
	filter := domain.ShiftFilter{
		UserID:   strings.TrimSpace(query.Get("user_id")),
		OutletID: strings.TrimSpace(query.Get("outlet_id")),
		Status:   domain.ShiftStatus(strings.TrimSpace(query.Get("status"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, errors.New("status must be active, pending_approval or closed")
	}

	if raw := strings.TrimSpace(query.Get("start_date")); raw != "" {
		start, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return filter, errors.New("start_date must be YYYY-MM-DD")
		}
		filter.StartDate = &start
	}
	if raw := strings.TrimSpace(query.Get("end_date")); raw != "" {
		end, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return filter, errors.New("end_date must be YYYY-MM-DD")
		}
		end = end.AddDate(0, 0, 1)
		filter.EndDate = &end
	}
	if filter.StartDate != nil && filter.EndDate != nil && !filter.EndDate.After(*filter.StartDate) {
		return filter, errors.New("end_date must not be before start_date")
	}
	return filter, nil
}
