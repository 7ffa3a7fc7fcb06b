package httpapi

import (
	"bytes"
	"encoding/csv"
	"html/template"
	"strconv"
	"time"

	"apotekpos/backend/internal/domain"
)

func shiftReportToCSV(report domain.ShiftReport) ([]byte, error) {
	shift := report.Shift
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "shift_id", shift.ID},
		{"summary", "user_id", shift.UserID},
		{"summary", "user_name", shift.UserName},
		{"summary", "outlet_id", shift.OutletID},
		{"summary", "status", string(shift.Status)},
		{"summary", "start_time", shift.StartTime.Format(time.RFC3339)},
		{"summary", "end_time", formatOptionalTime(shift.EndTime)},
		{"summary", "opening_cash_cents", strconv.FormatInt(shift.OpeningCashCents, 10)},
		{"summary", "cash_sales_cents", strconv.FormatInt(shift.CashSalesCents, 10)},
		{"summary", "card_sales_cents", strconv.FormatInt(shift.CardSalesCents, 10)},
		{"summary", "mobile_sales_cents", strconv.FormatInt(shift.MobileSalesCents, 10)},
		{"summary", "transaction_count", strconv.FormatInt(shift.TransactionCount, 10)},
		{"summary", "total_cash_in_cents", strconv.FormatInt(shift.TotalCashInCents, 10)},
		{"summary", "total_cash_out_cents", strconv.FormatInt(shift.TotalCashOutCents, 10)},
		{"summary", "expected_cash_cents", strconv.FormatInt(shift.ExpectedCashCents, 10)},
		{"summary", "actual_cash_cents", formatOptionalCents(shift.ActualCashCents)},
		{"summary", "variance_cents", formatOptionalCents(shift.VarianceCents)},
		{"summary", "approval_required", strconv.FormatBool(shift.ApprovalRequired)},
	}
	if shift.ManagerApproval != nil {
		rows = append(rows,
			[]string{"approval", "manager_id", shift.ManagerApproval.ManagerID},
			[]string{"approval", "timestamp", shift.ManagerApproval.Timestamp.Format(time.RFC3339)},
		)
	}
	for _, movement := range report.Movements {
		detail := movement.Reason
		if movement.Kind == domain.MovementSale {
			detail = string(movement.TenderType)
		}
		rows = append(rows, []string{
			"movement",
			movement.Timestamp.Format(time.RFC3339) + " " + string(movement.Kind),
			strconv.FormatInt(movement.AmountCents, 10) + " " + detail,
		})
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatOptionalTime(at *time.Time) string {
	if at == nil {
		return ""
	}
	return at.Format(time.RFC3339)
}

func formatOptionalCents(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}

// All user-controlled fields are auto-escaped by html/template.
var shiftReportHTMLTmpl = template.Must(template.New("shift-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Shift Report {{.Shift.ID}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Shift Report {{.Shift.ID}}</h2>
  <p>Staff: {{.Shift.UserName}} ({{.Shift.UserID}}) | Outlet: {{.Shift.OutletID}} | Status: {{.Shift.Status}}</p>
  <p>Opening: {{.Shift.OpeningCashCents}} | Cash: {{.Shift.CashSalesCents}} | Card: {{.Shift.CardSalesCents}} | Mobile: {{.Shift.MobileSalesCents}} | Transactions: {{.Shift.TransactionCount}}</p>
  <p>Cash In: {{.Shift.TotalCashInCents}} | Cash Out: {{.Shift.TotalCashOutCents}} | Expected: {{.Shift.ExpectedCashCents}}{{with .Shift.ActualCashCents}} | Actual: {{.}}{{end}}{{with .Shift.VarianceCents}} | Variance: {{.}}{{end}}</p>
  {{with .Shift.ManagerApproval}}<p>Approved by {{.ManagerID}} at {{.Timestamp.Format "2006-01-02 15:04"}}</p>{{end}}

  <h3>Movements</h3>
  <table>
    <thead><tr><th>Time</th><th>Kind</th><th>Tender</th><th>Reason</th><th>Amount Cents</th></tr></thead>
    <tbody>{{range .Movements}}<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Kind}}</td><td>{{.TenderType}}</td><td>{{.Reason}}</td><td style="text-align:right;">{{.AmountCents}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func shiftReportToPrintableHTML(report domain.ShiftReport) string {
	var buf bytes.Buffer
	if err := shiftReportHTMLTmpl.Execute(&buf, report); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}
