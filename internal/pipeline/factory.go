package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/metrics"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/qbo"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/token"
)

// QBOClients returns the production ClientFactory: one rate-limited API
// client per tenant, sharing the token manager.
func QBOClients(cfg config.QBOConfig, tokens *token.Manager, m *metrics.Metrics, log zerolog.Logger) ClientFactory {
	return func(tenant model.Tenant) Client {
		return qboClient{c: qbo.NewClient(cfg, tokens, tenant.ClientID, log).WithMetrics(m)}
	}
}

type qboClient struct {
	c *qbo.Client
}

func (a qboClient) Extract(entity model.EntityType, since time.Time) DocumentSource {
	return a.c.Extract(entity, since)
}

func (a qboClient) FetchReport(ctx context.Context, spec qbo.ReportSpec, start, end time.Time) (map[string]any, error) {
	return a.c.FetchReport(ctx, spec, start, end)
}
