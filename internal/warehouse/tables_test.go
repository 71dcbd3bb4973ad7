package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate())
}

func TestPlansDimensionsPrecedeFacts(t *testing.T) {
	lastDim := -1
	firstFact := len(Plans)
	for i, plan := range Plans {
		if plan.Dimension && i > lastDim {
			lastDim = i
		}
		if !plan.Dimension && i < firstFact {
			firstFact = i
		}
	}
	assert.Less(t, lastDim, firstFact, "every dimension must load before the first fact")
}

func TestPlanFor(t *testing.T) {
	plan, ok := PlanFor(model.EntityInvoice)
	require.True(t, ok)
	assert.Equal(t, "fact_invoice", plan.Table)
	assert.Equal(t, "fact_invoice_line", plan.LineTable)
	assert.False(t, plan.Dimension)

	plan, ok = PlanFor(model.EntityTaxRate)
	require.True(t, ok)
	assert.True(t, plan.Dimension)
	assert.Empty(t, plan.LineTable)

	_, ok = PlanFor(model.EntityType("Widget"))
	assert.False(t, ok)
}

func TestPaymentLineKeyIncludesSequence(t *testing.T) {
	table := Tables["fact_payment_line"]
	assert.Equal(t, []string{"client_id", "payment_id", "linked_invoice_id", "line_seq"}, table.KeyColumns)
}

func TestReportTable(t *testing.T) {
	assert.Equal(t, "report_profit_and_loss", ReportTable("ProfitAndLoss"))
	assert.Equal(t, "report_profit_and_loss_cash", ReportTable("ProfitAndLossCash"))
	assert.Equal(t, "report_trial_balance", ReportTable("TrialBalance"))
}
