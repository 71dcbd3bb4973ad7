package transform

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

func TestMapHeaderInvoice(t *testing.T) {
	d := doc(t, model.EntityInvoice, `{
		"Id": "145",
		"DocNumber": "INV-145",
		"TxnDate": "2024-03-15",
		"DueDate": "2024-04-14",
		"CustomerRef": {"value": "5", "name": "Acme"},
		"TotalAmt": 1000.00,
		"Balance": 250.00,
		"TxnTaxDetail": {"TotalTax": 80.00},
		"EmailStatus": "EmailSent"
	}`)

	row, err := MapHeader(d)
	require.NoError(t, err)

	assert.Equal(t, "pilot_001", row["client_id"])
	assert.Equal(t, "145", row["invoice_id"])
	assert.Equal(t, "INV-145", row["doc_number"])
	assert.Equal(t, "2024-03-15", row["txn_date"])
	assert.Equal(t, 20240315, row["txn_date_key"])
	assert.Equal(t, 20240414, row["due_date_key"])
	assert.Equal(t, "5", row["customer_id"])
	assert.True(t, decimal.NewFromInt(1000).Equal(row["total_amount"].(decimal.Decimal)))
	assert.True(t, decimal.NewFromInt(80).Equal(row["total_tax"].(decimal.Decimal)))
	// No print status in the source: explicit nil, not "".
	assert.Nil(t, row["print_status"])
}

func TestMapHeaderAccountBooleansAndDefaults(t *testing.T) {
	d := doc(t, model.EntityAccount, `{
		"Id": "64",
		"Name": "Rent Expense",
		"FullyQualifiedName": "Expenses:Rent Expense",
		"Classification": "Expense",
		"AccountType": "Expense",
		"SubAccount": true,
		"ParentRef": {"value": "60"},
		"Active": false,
		"CurrentBalance": 0
	}`)

	row, err := MapHeader(d)
	require.NoError(t, err)

	assert.Equal(t, 1, row["is_sub_account"])
	assert.Equal(t, 0, row["is_active"])
	assert.Equal(t, "60", row["parent_account_id"])
	assert.Equal(t, "USD", row["currency_code"])
	assert.True(t, decimal.Zero.Equal(row["current_balance"].(decimal.Decimal)))
}

func TestMapHeaderCustomerNestedRefs(t *testing.T) {
	d := doc(t, model.EntityCustomer, `{
		"Id": "5",
		"DisplayName": "Acme Corp",
		"PrimaryEmailAddr": {"Address": "ap@acme.test"},
		"PrimaryPhone": {"FreeFormNumber": "555-0100"},
		"BillAddr": {"City": "Denver", "CountrySubDivisionCode": "CO", "PostalCode": "80202"},
		"Balance": 1250.00
	}`)

	row, err := MapHeader(d)
	require.NoError(t, err)

	assert.Equal(t, "ap@acme.test", row["email"])
	assert.Equal(t, "555-0100", row["phone"])
	assert.Equal(t, "Denver", row["billing_city"])
	assert.Equal(t, "CO", row["billing_state"])
	assert.Equal(t, 0, row["is_job"])
	assert.Equal(t, 1, row["is_active"])
}

func TestMapHeaderEstimateLinkedInvoice(t *testing.T) {
	d := doc(t, model.EntityEstimate, `{
		"Id": "77",
		"TxnDate": "2024-02-01",
		"TxnStatus": "Closed",
		"LinkedTxn": [
			{"TxnId": "9", "TxnType": "Payment"},
			{"TxnId": "145", "TxnType": "Invoice"}
		]
	}`)

	row, err := MapHeader(d)
	require.NoError(t, err)
	assert.Equal(t, "145", row["linked_invoice_id"])
	assert.Equal(t, 20240201, row["txn_date_key"])
}

func TestMapHeaderGenericDimension(t *testing.T) {
	d := doc(t, model.EntityClass, `{"Id": "300", "Name": "West", "Active": true}`)

	row, err := MapHeader(d)
	require.NoError(t, err)
	assert.Equal(t, "300", row["id"])
	assert.Equal(t, "West", row["name"])
	assert.Equal(t, "West", row["fully_qualified_name"])
	assert.Equal(t, 1, row["is_active"])
}

func TestMapHeaderTransactionFallback(t *testing.T) {
	d := doc(t, model.EntityDeposit, `{"Id": "88", "TxnDate": "2024-05-02", "TotalAmt": 300.00}`)

	row, err := MapHeader(d)
	require.NoError(t, err)
	assert.Equal(t, "88", row["id"])
	assert.Equal(t, 20240502, row["txn_date_key"])
	assert.True(t, decimal.NewFromInt(300).Equal(row["total_amount"].(decimal.Decimal)))
}

func TestMapHeaderMissingID(t *testing.T) {
	d := doc(t, model.EntityInvoice, `{"TxnDate": "2024-03-15"}`)

	_, err := MapHeader(d)
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Id", verr.Field)

	d.ID = "145"
	d.ClientID = ""
	_, err = MapHeader(d)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "client_id", verr.Field)
}

func TestMapHeaderInvalidDateYieldsNilKey(t *testing.T) {
	d := doc(t, model.EntityInvoice, `{"Id": "145", "TxnDate": "bogus"}`)

	row, err := MapHeader(d)
	require.NoError(t, err)
	assert.Nil(t, row["txn_date_key"])
}

func TestDeduplicateKeepsLast(t *testing.T) {
	rows := []Row{
		{"client_id": "a", "invoice_id": "1", "balance": 100},
		{"client_id": "a", "invoice_id": "2", "balance": 50},
		{"client_id": "a", "invoice_id": "1", "balance": 0},
	}

	out := Deduplicate(rows, []string{"client_id", "invoice_id"})
	require.Len(t, out, 2)
	assert.Equal(t, 0, out[0]["balance"], "later copy wins")
	assert.Equal(t, "2", out[1]["invoice_id"])
}
