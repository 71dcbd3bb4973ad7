package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunsTotal.WithLabelValues("pilot_001", "Invoice", "completed").Inc()
	m.DocsExtracted.WithLabelValues("pilot_001", "Invoice").Add(5)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["qbo_pipeline_runs_total"])
	assert.True(t, names["qbo_pipeline_documents_extracted_total"])
}

func TestRecordLoadSplitsByOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordLoad("pilot_001", "fact_invoice", 3, 2, 7)
	m.RecordLoad("pilot_001", "fact_invoice", 1, 0, 0)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("pilot_001", "fact_invoice", "insert")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("pilot_001", "fact_invoice", "update")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("pilot_001", "fact_invoice", "unchanged")))
}
