package pipeline

import (
	"fmt"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/transform"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

// checkMappings runs every entity's mapper against a minimal synthetic
// document and verifies the output carries each natural-key column its load
// table declares. A renamed key column in a mapper then fails the process at
// startup instead of surfacing as a SQL error mid-run.
func checkMappings() error {
	for _, plan := range warehouse.Plans {
		doc := sampleDoc(plan.Entity)

		header, err := transform.MapHeader(doc)
		if err != nil {
			return fmt.Errorf("entity %s: mapper rejected sample document: %w", plan.Entity, err)
		}
		for _, col := range warehouse.Tables[plan.Table].KeyColumns {
			if _, ok := header[col]; !ok {
				return fmt.Errorf("entity %s: mapper output missing key column %q of %s", plan.Entity, col, plan.Table)
			}
		}

		if plan.LineTable == "" {
			continue
		}
		lines, _ := transform.FlattenLines(doc)
		if len(lines) == 0 {
			return fmt.Errorf("entity %s: flattener produced no line for sample document", plan.Entity)
		}
		for _, col := range warehouse.Tables[plan.LineTable].KeyColumns {
			if _, ok := lines[0][col]; !ok {
				return fmt.Errorf("entity %s: line output missing key column %q of %s", plan.Entity, col, plan.LineTable)
			}
		}
	}
	return nil
}

// sampleDoc builds the smallest document each mapper accepts, with one
// supported line for entities that load a line table.
func sampleDoc(entity model.EntityType) model.RawDocument {
	data := map[string]any{"Id": "0"}
	switch entity {
	case model.EntityInvoice, model.EntityEstimate:
		data["Line"] = []any{map[string]any{
			"Id": "1", "DetailType": "SalesItemLineDetail",
			"SalesItemLineDetail": map[string]any{},
		}}
	case model.EntityBill, model.EntityPurchase:
		data["Line"] = []any{map[string]any{
			"Id": "1", "DetailType": "AccountBasedExpenseLineDetail",
			"AccountBasedExpenseLineDetail": map[string]any{},
		}}
	case model.EntityPayment:
		data["Line"] = []any{map[string]any{
			"Amount":    1.0,
			"LinkedTxn": []any{map[string]any{"TxnId": "1", "TxnType": "Invoice"}},
		}}
	}
	return model.RawDocument{ClientID: "sample", Entity: entity, ID: "0", Data: data}
}
