package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/transform"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

func TestCheckMappingsAcceptsDeclaredSchema(t *testing.T) {
	require.NoError(t, checkMappings())
}

func TestSampleDocsCoverEveryLineTable(t *testing.T) {
	for _, plan := range warehouse.Plans {
		if plan.LineTable == "" {
			continue
		}
		lines, notes := transform.FlattenLines(sampleDoc(plan.Entity))
		assert.NotEmpty(t, lines, "entity %s", plan.Entity)
		assert.Empty(t, notes, "entity %s", plan.Entity)
	}
}
