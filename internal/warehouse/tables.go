package warehouse

// The star schema is a fixed contract: a known set of dimension and fact
// tables, each keyed by client_id plus the source system's natural key.
// Loading never creates or alters analytical tables.

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// Table is one load target: its name and natural key columns. Key columns
// always begin with client_id; every tenant's rows are isolated by it.
type Table struct {
	Name       string
	KeyColumns []string
}

// Tables is the registry of every analytical load target.
var Tables = map[string]Table{
	"dim_account":        {Name: "dim_account", KeyColumns: []string{"client_id", "account_id"}},
	"dim_customer":       {Name: "dim_customer", KeyColumns: []string{"client_id", "customer_id"}},
	"dim_vendor":         {Name: "dim_vendor", KeyColumns: []string{"client_id", "vendor_id"}},
	"dim_item":           {Name: "dim_item", KeyColumns: []string{"client_id", "item_id"}},
	"dim_employee":       {Name: "dim_employee", KeyColumns: []string{"client_id", "employee_id"}},
	"dim_class":          {Name: "dim_class", KeyColumns: []string{"client_id", "id"}},
	"dim_department":     {Name: "dim_department", KeyColumns: []string{"client_id", "id"}},
	"dim_tax_code":       {Name: "dim_tax_code", KeyColumns: []string{"client_id", "id"}},
	"dim_tax_rate":       {Name: "dim_tax_rate", KeyColumns: []string{"client_id", "id"}},
	"dim_term":           {Name: "dim_term", KeyColumns: []string{"client_id", "id"}},
	"dim_payment_method": {Name: "dim_payment_method", KeyColumns: []string{"client_id", "id"}},
	"dim_company_info":   {Name: "dim_company_info", KeyColumns: []string{"client_id", "id"}},

	"fact_invoice":       {Name: "fact_invoice", KeyColumns: []string{"client_id", "invoice_id"}},
	"fact_invoice_line":  {Name: "fact_invoice_line", KeyColumns: []string{"client_id", "invoice_id", "line_id"}},
	"fact_bill":          {Name: "fact_bill", KeyColumns: []string{"client_id", "bill_id"}},
	"fact_bill_line":     {Name: "fact_bill_line", KeyColumns: []string{"client_id", "bill_id", "line_id"}},
	"fact_payment":       {Name: "fact_payment", KeyColumns: []string{"client_id", "payment_id"}},
	"fact_payment_line":  {Name: "fact_payment_line", KeyColumns: []string{"client_id", "payment_id", "linked_invoice_id", "line_seq"}},
	"fact_purchase":      {Name: "fact_purchase", KeyColumns: []string{"client_id", "purchase_id"}},
	"fact_purchase_line": {Name: "fact_purchase_line", KeyColumns: []string{"client_id", "purchase_id", "line_id"}},
	"fact_estimate":      {Name: "fact_estimate", KeyColumns: []string{"client_id", "estimate_id"}},
	"fact_estimate_line": {Name: "fact_estimate_line", KeyColumns: []string{"client_id", "estimate_id", "line_id"}},
	"fact_bill_payment":  {Name: "fact_bill_payment", KeyColumns: []string{"client_id", "id"}},
	"fact_deposit":       {Name: "fact_deposit", KeyColumns: []string{"client_id", "id"}},
	"fact_credit_memo":   {Name: "fact_credit_memo", KeyColumns: []string{"client_id", "id"}},
	"fact_refund_receipt": {Name: "fact_refund_receipt", KeyColumns: []string{"client_id", "id"}},
	"fact_sales_receipt": {Name: "fact_sales_receipt", KeyColumns: []string{"client_id", "id"}},
	"fact_journal_entry": {Name: "fact_journal_entry", KeyColumns: []string{"client_id", "id"}},
	"fact_transfer":      {Name: "fact_transfer", KeyColumns: []string{"client_id", "id"}},
}

// EntityPlan maps a source entity to its load targets. LineTable is empty for
// entities without a line fact table.
type EntityPlan struct {
	Entity    model.EntityType
	Table     string
	Dimension bool
	LineTable string
}

// Plans lists every extracted entity in load order: dimensions before fact
// headers, and the orchestrator loads each header table before its lines.
var Plans = []EntityPlan{
	{Entity: model.EntityAccount, Table: "dim_account", Dimension: true},
	{Entity: model.EntityCustomer, Table: "dim_customer", Dimension: true},
	{Entity: model.EntityVendor, Table: "dim_vendor", Dimension: true},
	{Entity: model.EntityItem, Table: "dim_item", Dimension: true},
	{Entity: model.EntityEmployee, Table: "dim_employee", Dimension: true},
	{Entity: model.EntityClass, Table: "dim_class", Dimension: true},
	{Entity: model.EntityDepartment, Table: "dim_department", Dimension: true},
	{Entity: model.EntityTaxCode, Table: "dim_tax_code", Dimension: true},
	{Entity: model.EntityTaxRate, Table: "dim_tax_rate", Dimension: true},
	{Entity: model.EntityTerm, Table: "dim_term", Dimension: true},
	{Entity: model.EntityPaymentMethod, Table: "dim_payment_method", Dimension: true},
	{Entity: model.EntityCompanyInfo, Table: "dim_company_info", Dimension: true},

	{Entity: model.EntityInvoice, Table: "fact_invoice", LineTable: "fact_invoice_line"},
	{Entity: model.EntityBill, Table: "fact_bill", LineTable: "fact_bill_line"},
	{Entity: model.EntityPayment, Table: "fact_payment", LineTable: "fact_payment_line"},
	{Entity: model.EntityPurchase, Table: "fact_purchase", LineTable: "fact_purchase_line"},
	{Entity: model.EntityEstimate, Table: "fact_estimate", LineTable: "fact_estimate_line"},
	{Entity: model.EntityBillPayment, Table: "fact_bill_payment"},
	{Entity: model.EntityDeposit, Table: "fact_deposit"},
	{Entity: model.EntityCreditMemo, Table: "fact_credit_memo"},
	{Entity: model.EntityRefundReceipt, Table: "fact_refund_receipt"},
	{Entity: model.EntitySalesReceipt, Table: "fact_sales_receipt"},
	{Entity: model.EntityJournalEntry, Table: "fact_journal_entry"},
	{Entity: model.EntityTransfer, Table: "fact_transfer"},
}

// Validate checks the registry and plans for internal consistency. Run at
// startup so a mis-declared table fails the process before any extraction.
func Validate() error {
	for name, table := range Tables {
		if name != table.Name {
			return fmt.Errorf("table %q registered under mismatched key %q", table.Name, name)
		}
		if len(table.KeyColumns) < 2 {
			return fmt.Errorf("table %q: natural key must have client_id plus at least one column", name)
		}
		if table.KeyColumns[0] != "client_id" {
			return fmt.Errorf("table %q: natural key must start with client_id", name)
		}
	}
	for _, plan := range Plans {
		if _, ok := Tables[plan.Table]; !ok {
			return fmt.Errorf("entity %s: unknown table %q", plan.Entity, plan.Table)
		}
		if plan.LineTable != "" {
			if _, ok := Tables[plan.LineTable]; !ok {
				return fmt.Errorf("entity %s: unknown line table %q", plan.Entity, plan.LineTable)
			}
			if plan.Dimension {
				return fmt.Errorf("entity %s: dimensions cannot have line tables", plan.Entity)
			}
		}
	}
	return nil
}

// PlanFor returns the load plan for an entity.
func PlanFor(entity model.EntityType) (EntityPlan, bool) {
	for _, plan := range Plans {
		if plan.Entity == entity {
			return plan, true
		}
	}
	return EntityPlan{}, false
}

// ReportTable derives the table name for a report, e.g. "ProfitAndLossCash"
// -> "report_profit_and_loss_cash".
func ReportTable(reportName string) string {
	var b strings.Builder
	b.WriteString("report_")
	for i, r := range reportName {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
