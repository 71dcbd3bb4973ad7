package transform

// The schema mapper turns one raw document into its header or dimension row.
// Mappings are static per entity; anything without a dedicated mapping falls
// back to the generic dimension shape (id, name, fully_qualified_name,
// is_active) or, for transaction entities, the generic header shape.
//
// Coercions: currency amounts become decimal.Decimal, booleans become 0/1
// integers, dates stay ISO strings with a derived YYYYMMDD *_date_key.

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// SchemaValidationError marks a document that cannot be mapped because a
// required key is missing. The row is skipped and recorded; the rest of the
// batch proceeds.
type SchemaValidationError struct {
	Entity model.EntityType
	DocID  string
	Field  string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s document %q: missing required field %s", e.Entity, e.DocID, e.Field)
}

// MapHeader maps a raw document onto its header/dimension row, client_id
// included.
func MapHeader(doc model.RawDocument) (Row, error) {
	if doc.ClientID == "" {
		return nil, &SchemaValidationError{Entity: doc.Entity, DocID: doc.ID, Field: "client_id"}
	}
	if doc.ID == "" {
		return nil, &SchemaValidationError{Entity: doc.Entity, DocID: doc.ID, Field: "Id"}
	}

	r := doc.Data
	var row Row
	switch doc.Entity {
	case model.EntityAccount:
		row = mapAccount(r)
	case model.EntityCustomer:
		row = mapCustomer(r)
	case model.EntityVendor:
		row = mapVendor(r)
	case model.EntityItem:
		row = mapItem(r)
	case model.EntityEmployee:
		row = mapEmployee(r)
	case model.EntityInvoice:
		row = mapInvoice(r)
	case model.EntityBill:
		row = mapBill(r)
	case model.EntityPayment:
		row = mapPayment(r)
	case model.EntityPurchase:
		row = mapPurchase(r)
	case model.EntityEstimate:
		row = mapEstimate(r)
	case model.EntityCompanyInfo:
		row = mapCompanyInfo(r)
	case model.EntityBillPayment, model.EntityCreditMemo, model.EntityDeposit,
		model.EntityJournalEntry, model.EntityRefundReceipt,
		model.EntitySalesReceipt, model.EntityTransfer:
		row = mapTransactionHeader(r)
	default:
		row = mapDimension(r)
	}
	row["client_id"] = doc.ClientID
	return row, nil
}

func mapAccount(r map[string]any) Row {
	return Row{
		"account_id":           r["Id"],
		"account_name":         r["Name"],
		"fully_qualified_name": r["FullyQualifiedName"],
		"classification":       r["Classification"],
		"account_type":         r["AccountType"],
		"account_sub_type":     r["AccountSubType"],
		"is_sub_account":       boolInt(r["SubAccount"], false),
		"parent_account_id":    getMap(r, "ParentRef")["value"],
		"is_active":            boolInt(r["Active"], true),
		"current_balance":      decimalOr(r["CurrentBalance"], decimal.Zero),
		"currency_code":        stringOr(getMap(r, "CurrencyRef")["value"], "USD"),
	}
}

func mapCustomer(r map[string]any) Row {
	bill := getMap(r, "BillAddr")
	return Row{
		"customer_id":         r["Id"],
		"display_name":        r["DisplayName"],
		"company_name":        r["CompanyName"],
		"given_name":          r["GivenName"],
		"family_name":         r["FamilyName"],
		"email":               getMap(r, "PrimaryEmailAddr")["Address"],
		"phone":               getMap(r, "PrimaryPhone")["FreeFormNumber"],
		"billing_city":        bill["City"],
		"billing_state":       bill["CountrySubDivisionCode"],
		"billing_postal_code": bill["PostalCode"],
		"is_job":              boolInt(r["Job"], false),
		"is_active":           boolInt(r["Active"], true),
		"balance":             decimalOr(r["Balance"], decimal.Zero),
		"parent_customer_id":  getMap(r, "ParentRef")["value"],
	}
}

func mapVendor(r map[string]any) Row {
	return Row{
		"vendor_id":    r["Id"],
		"display_name": r["DisplayName"],
		"company_name": r["CompanyName"],
		"email":        getMap(r, "PrimaryEmailAddr")["Address"],
		"phone":        getMap(r, "PrimaryPhone")["FreeFormNumber"],
		"is_1099":      boolInt(r["Vendor1099"], false),
		"is_active":    boolInt(r["Active"], true),
		"balance":      decimalOr(r["Balance"], decimal.Zero),
	}
}

func mapItem(r map[string]any) Row {
	return Row{
		"item_id":            r["Id"],
		"item_name":          r["Name"],
		"description":        r["Description"],
		"item_type":          r["Type"],
		"unit_price":         decimalOf(r["UnitPrice"]),
		"purchase_cost":      decimalOf(r["PurchaseCost"]),
		"is_active":          boolInt(r["Active"], true),
		"income_account_id":  getMap(r, "IncomeAccountRef")["value"],
		"expense_account_id": getMap(r, "ExpenseAccountRef")["value"],
		"track_qty":          boolInt(r["TrackQtyOnHand"], false),
		"qty_on_hand":        decimalOf(r["QtyOnHand"]),
	}
}

func mapEmployee(r map[string]any) Row {
	return Row{
		"employee_id":  r["Id"],
		"display_name": r["DisplayName"],
		"given_name":   r["GivenName"],
		"family_name":  r["FamilyName"],
		"hired_date":   r["HiredDate"],
		"is_active":    boolInt(r["Active"], true),
	}
}

func mapInvoice(r map[string]any) Row {
	return Row{
		"invoice_id":   r["Id"],
		"doc_number":   r["DocNumber"],
		"txn_date":     r["TxnDate"],
		"txn_date_key": dateKeyOf(r["TxnDate"]),
		"due_date":     r["DueDate"],
		"due_date_key": dateKeyOf(r["DueDate"]),
		"customer_id":  getMap(r, "CustomerRef")["value"],
		"total_amount": decimalOf(r["TotalAmt"]),
		"balance":      decimalOf(r["Balance"]),
		"total_tax":    decimalOr(getMap(r, "TxnTaxDetail")["TotalTax"], decimal.Zero),
		"email_status": r["EmailStatus"],
		"print_status": r["PrintStatus"],
	}
}

func mapBill(r map[string]any) Row {
	return Row{
		"bill_id":      r["Id"],
		"txn_date":     r["TxnDate"],
		"txn_date_key": dateKeyOf(r["TxnDate"]),
		"due_date":     r["DueDate"],
		"due_date_key": dateKeyOf(r["DueDate"]),
		"vendor_id":    getMap(r, "VendorRef")["value"],
		"total_amount": decimalOf(r["TotalAmt"]),
		"balance":      decimalOf(r["Balance"]),
	}
}

func mapPayment(r map[string]any) Row {
	return Row{
		"payment_id":            r["Id"],
		"txn_date":              r["TxnDate"],
		"txn_date_key":          dateKeyOf(r["TxnDate"]),
		"total_amount":          decimalOf(r["TotalAmt"]),
		"customer_id":           getMap(r, "CustomerRef")["value"],
		"deposit_to_account_id": getMap(r, "DepositToAccountRef")["value"],
		"payment_method_id":     getMap(r, "PaymentMethodRef")["value"],
		"unapplied_amount":      decimalOr(r["UnappliedAmt"], decimal.Zero),
	}
}

func mapPurchase(r map[string]any) Row {
	entity := getMap(r, "EntityRef")
	return Row{
		"purchase_id":  r["Id"],
		"txn_date":     r["TxnDate"],
		"txn_date_key": dateKeyOf(r["TxnDate"]),
		"payment_type": r["PaymentType"],
		"total_amount": decimalOf(r["TotalAmt"]),
		"account_id":   getMap(r, "AccountRef")["value"],
		"vendor_id":    entity["value"],
		"vendor_type":  entity["type"],
		"is_credit":    boolInt(r["Credit"], false),
		"doc_number":   r["DocNumber"],
	}
}

func mapEstimate(r map[string]any) Row {
	var linkedInvoice any
	for _, l := range getSlice(r, "LinkedTxn") {
		txn, ok := l.(map[string]any)
		if ok && str(txn["TxnType"]) == "Invoice" {
			linkedInvoice = txn["TxnId"]
			break
		}
	}
	return Row{
		"estimate_id":       r["Id"],
		"doc_number":        r["DocNumber"],
		"txn_date":          r["TxnDate"],
		"txn_date_key":      dateKeyOf(r["TxnDate"]),
		"customer_id":       getMap(r, "CustomerRef")["value"],
		"total_amount":      decimalOf(r["TotalAmt"]),
		"txn_status":        r["TxnStatus"],
		"linked_invoice_id": linkedInvoice,
	}
}

func mapCompanyInfo(r map[string]any) Row {
	return Row{
		"id":                   r["Id"],
		"name":                 r["CompanyName"],
		"fully_qualified_name": stringOr(r["LegalName"], str(r["CompanyName"])),
		"is_active":            1,
	}
}

// mapTransactionHeader covers transaction entities without a bespoke mapping
// (deposits, transfers, journal entries, the receipt family).
func mapTransactionHeader(r map[string]any) Row {
	return Row{
		"id":           r["Id"],
		"doc_number":   r["DocNumber"],
		"txn_date":     r["TxnDate"],
		"txn_date_key": dateKeyOf(r["TxnDate"]),
		"total_amount": decimalOf(r["TotalAmt"]),
	}
}

// mapDimension covers simple reference tables (Class, Department, Term, ...).
func mapDimension(r map[string]any) Row {
	return Row{
		"id":                   r["Id"],
		"name":                 r["Name"],
		"fully_qualified_name": stringOr(r["FullyQualifiedName"], str(r["Name"])),
		"is_active":            boolInt(r["Active"], true),
	}
}

func dateKeyOf(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	key, err := DateKey(s)
	if err != nil {
		return nil
	}
	return key
}

func boolInt(v any, def bool) int {
	b := def
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		if t == "true" || t == "True" {
			b = true
		} else if t == "false" || t == "False" {
			b = false
		}
	}
	if b {
		return 1
	}
	return 0
}

func decimalOr(v any, def decimal.Decimal) any {
	if d := decimalOf(v); d != nil {
		return d
	}
	return def
}

func stringOr(v any, def string) any {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	if def == "" {
		return nil
	}
	return def
}
