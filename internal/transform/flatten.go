package transform

// Flattening explodes the Line array of a transaction document into one row
// per line item for the *_line fact tables. Only data-bearing detail types
// survive: subtotal and discount lines are structural and dropped silently,
// anything else unsupported is dropped with a data-quality note while the
// header still loads.

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// Row is one flat table row, column name to value. A nil value loads as SQL
// NULL; absent source fields are carried as explicit nil entries rather than
// zero values.
type Row map[string]any

// Note records a piece of source data the flattener dropped or degraded.
type Note struct {
	Entity model.EntityType
	DocID  string
	LineID string
	Reason string
}

// FlattenLines produces the line rows for a transaction document. Entities
// without a line fact table yield no rows.
func FlattenLines(doc model.RawDocument) ([]Row, []Note) {
	switch doc.Entity {
	case model.EntityInvoice:
		return flattenSalesLines(doc, "invoice_id", true)
	case model.EntityEstimate:
		return flattenSalesLines(doc, "estimate_id", false)
	case model.EntityBill:
		return flattenExpenseLines(doc, "bill_id")
	case model.EntityPurchase:
		return flattenExpenseLines(doc, "purchase_id")
	case model.EntityPayment:
		return flattenPaymentLines(doc)
	default:
		return nil, nil
	}
}

// flattenSalesLines handles SalesItemLineDetail lines (invoices and
// estimates). Invoices additionally carry a service date and a link to the
// originating transaction.
func flattenSalesLines(doc model.RawDocument, parentCol string, withLinks bool) ([]Row, []Note) {
	var rows []Row
	var notes []Note
	for _, l := range getSlice(doc.Data, "Line") {
		line, ok := l.(map[string]any)
		if !ok {
			continue
		}
		detailType, _ := line["DetailType"].(string)
		switch detailType {
		case "SubTotalLineDetail", "DiscountLineDetail":
			continue
		case "SalesItemLineDetail":
		default:
			notes = append(notes, Note{
				Entity: doc.Entity,
				DocID:  doc.ID,
				LineID: str(line["Id"]),
				Reason: fmt.Sprintf("unsupported detail type %q", detailType),
			})
			continue
		}

		detail := getMap(line, "SalesItemLineDetail")
		itemRef := getMap(detail, "ItemRef")
		accountRef := getMap(detail, "ItemAccountRef")

		row := Row{
			"client_id":    doc.ClientID,
			parentCol:      doc.ID,
			"line_id":      line["Id"],
			"line_num":     line["LineNum"],
			"description":  line["Description"],
			"amount":       decimalOf(line["Amount"]),
			"quantity":     decimalOf(detail["Qty"]),
			"unit_price":   decimalOf(detail["UnitPrice"]),
			"item_id":      itemRef["value"],
			"item_name":    itemRef["name"],
			"account_id":   accountRef["value"],
			"account_name": accountRef["name"],
			"tax_code_ref": getMap(detail, "TaxCodeRef")["value"],
			"detail_type":  detailType,
		}
		if withLinks {
			row["service_date"] = detail["ServiceDate"]
			row["linked_txn_id"], row["linked_txn_type"] = firstLinkedTxn(line)
		}
		rows = append(rows, row)
	}
	return rows, notes
}

// flattenExpenseLines handles bills and purchases, whose lines carry either
// an account-based or an item-based expense detail.
func flattenExpenseLines(doc model.RawDocument, parentCol string) ([]Row, []Note) {
	var rows []Row
	var notes []Note
	for _, l := range getSlice(doc.Data, "Line") {
		line, ok := l.(map[string]any)
		if !ok {
			continue
		}
		detailType, _ := line["DetailType"].(string)

		row := Row{
			"client_id":       doc.ClientID,
			parentCol:         doc.ID,
			"line_id":         line["Id"],
			"line_num":        line["LineNum"],
			"description":     line["Description"],
			"amount":          decimalOf(line["Amount"]),
			"detail_type":     detailType,
			"quantity":        nil,
			"unit_price":      nil,
			"item_id":         nil,
			"item_name":       nil,
			"account_id":      nil,
			"account_name":    nil,
			"billable_status": nil,
			"customer_id":     nil,
			"customer_name":   nil,
			"tax_code_ref":    nil,
		}

		switch detailType {
		case "ItemBasedExpenseLineDetail":
			detail := getMap(line, "ItemBasedExpenseLineDetail")
			itemRef := getMap(detail, "ItemRef")
			cust := getMap(detail, "CustomerRef")
			row["quantity"] = decimalOf(detail["Qty"])
			row["unit_price"] = decimalOf(detail["UnitPrice"])
			row["item_id"] = itemRef["value"]
			row["item_name"] = itemRef["name"]
			row["billable_status"] = detail["BillableStatus"]
			row["tax_code_ref"] = getMap(detail, "TaxCodeRef")["value"]
			row["customer_id"] = cust["value"]
			row["customer_name"] = cust["name"]

		case "AccountBasedExpenseLineDetail":
			detail := getMap(line, "AccountBasedExpenseLineDetail")
			acctRef := getMap(detail, "AccountRef")
			cust := getMap(detail, "CustomerRef")
			row["account_id"] = acctRef["value"]
			row["account_name"] = acctRef["name"]
			row["billable_status"] = detail["BillableStatus"]
			row["tax_code_ref"] = getMap(detail, "TaxCodeRef")["value"]
			row["customer_id"] = cust["value"]
			row["customer_name"] = cust["name"]

		default:
			if detailType != "SubTotalLineDetail" {
				notes = append(notes, Note{
					Entity: doc.Entity,
					DocID:  doc.ID,
					LineID: str(line["Id"]),
					Reason: fmt.Sprintf("unsupported detail type %q", detailType),
				})
			}
			continue
		}

		rows = append(rows, row)
	}
	return rows, notes
}

// flattenPaymentLines produces one row per invoice application. Payment lines
// have no Id of their own, so rows carry a 1-based sequence number to keep the
// natural key unique when one payment touches the same invoice twice. A line
// with no linked transaction has no natural key to load under and is dropped
// with a note, like an unsupported detail type.
func flattenPaymentLines(doc model.RawDocument) ([]Row, []Note) {
	var rows []Row
	var notes []Note
	for i, l := range getSlice(doc.Data, "Line") {
		line, ok := l.(map[string]any)
		if !ok {
			continue
		}
		linkedID, linkedType := firstLinkedTxn(line)
		if linkedID == nil {
			notes = append(notes, Note{
				Entity: doc.Entity,
				DocID:  doc.ID,
				LineID: fmt.Sprintf("%d", i+1),
				Reason: "payment line has no linked transaction",
			})
			continue
		}

		// LineEx carries name/value metadata pairs such as the invoice's
		// open balance at payment time.
		ex := map[string]any{}
		for _, item := range getSlice(getMap(line, "LineEx"), "any") {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			val := getMap(m, "value")
			name, _ := val["Name"].(string)
			ex[name] = val["Value"]
		}

		rows = append(rows, Row{
			"client_id":             doc.ClientID,
			"payment_id":            doc.ID,
			"line_seq":              i + 1,
			"amount":                decimalOf(line["Amount"]),
			"linked_invoice_id":     linkedID,
			"linked_txn_type":       linkedType,
			"original_open_balance": decimalOf(ex["txnOpenBalance"]),
			"invoice_doc_number":    ex["txnReferenceNumber"],
		})
	}
	return rows, notes
}

func firstLinkedTxn(line map[string]any) (id, txnType any) {
	linked := getSlice(line, "LinkedTxn")
	if len(linked) == 0 {
		return nil, nil
	}
	first, ok := linked[0].(map[string]any)
	if !ok {
		return nil, nil
	}
	return first["TxnId"], first["TxnType"]
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// decimalOf coerces a JSON number or numeric string to decimal.Decimal,
// preserving nil for absent values. Unparseable strings come back nil.
func decimalOf(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return nil
		}
		return d
	default:
		return nil
	}
}
