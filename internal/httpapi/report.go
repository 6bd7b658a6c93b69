package httpapi

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/domain"
)

var errUnsupportedFormat = errors.New("format must be csv, html or json")

func registerReportToCSV(report domain.RegisterReport) ([]byte, error) {
	reg := report.Register
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "business_date", reg.BusinessDate},
		{"summary", "status", reg.Status},
		{"summary", "total_operations", strconv.Itoa(reg.TotalOperations)},
		{"summary", "total_sales_amount", reg.TotalSalesAmount.StringFixed(2)},
		{"summary", "total_out", reg.TotalOut.StringFixed(2)},
		{"summary", "final_expected", reg.FinalExpected.StringFixed(2)},
		{"summary", "final_real", reg.FinalReal.StringFixed(2)},
		{"summary", "difference", reg.Difference.StringFixed(2)},
	}
	for _, p := range report.ByPayment {
		rows = append(rows,
			[]string{"payment", string(p.Method) + "_operations", strconv.Itoa(p.Operations)},
			[]string{"payment", string(p.Method) + "_total", p.Total.StringFixed(2)},
		)
	}
	for _, e := range reg.ExtraExpenses {
		rows = append(rows, []string{"expense", csvText(e.Description), e.Amount.StringFixed(2)})
	}
	for _, p := range reg.SupplierPayments {
		rows = append(rows, []string{"supplier_payment", csvText(p.Method), p.Amount.StringFixed(2)})
	}
	for _, sale := range report.Sales {
		rows = append(rows, []string{"sale", sale.ID, fmt.Sprintf("%s %s", sale.PaymentMethod, sale.Total.StringFixed(2))})
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// csvText quotes free text that a spreadsheet would otherwise evaluate as a
// formula.
func csvText(value string) string {
	if value != "" && strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return "'" + value
	}
	return value
}

// html/template escapes expense descriptions and other user text.
var registerReportHTMLTmpl = template.Must(template.New("register-report").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Register {{.Register.BusinessDate}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h2>Register {{.Register.BusinessDate}} ({{.Register.Status}})</h2>
  <p>Operations: {{.Register.TotalOperations}} | Sales: {{.Register.TotalSalesAmount.StringFixed 2}}</p>
  <p>Out: {{.Register.TotalOut.StringFixed 2}} | Expected: {{.Register.FinalExpected.StringFixed 2}} | Counted: {{.Register.FinalReal.StringFixed 2}} | Difference: {{.Register.Difference.StringFixed 2}}</p>

  <h3>By Payment</h3>
  <table>
    <thead><tr><th>Method</th><th>Operations</th><th>Total</th></tr></thead>
    <tbody>{{range .ByPayment}}<tr><td>{{.Method}}</td><td class="num">{{.Operations}}</td><td class="num">{{.Total.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Expenses</h3>
  <table>
    <thead><tr><th>Description</th><th>Amount</th></tr></thead>
    <tbody>{{range .Register.ExtraExpenses}}<tr><td>{{.Description}}</td><td class="num">{{.Amount.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Supplier Payments</h3>
  <table>
    <thead><tr><th>Method</th><th>Amount</th></tr></thead>
    <tbody>{{range .Register.SupplierPayments}}<tr><td>{{.Method}}</td><td class="num">{{.Amount.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Sales</h3>
  <table>
    <thead><tr><th>Sale</th><th>Time (UTC)</th><th>Method</th><th>Total</th></tr></thead>
    <tbody>{{range .Sales}}<tr><td>{{.ID}}</td><td>{{.CreatedAt.Format "15:04"}}</td><td>{{.PaymentMethod}}</td><td class="num">{{.Total.StringFixed 2}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func registerReportToHTML(report domain.RegisterReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := registerReportHTMLTmpl.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("render register report: %w", err)
	}
	return buf.Bytes(), nil
}
