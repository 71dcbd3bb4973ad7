package qbo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

// Query fetches one page of an entity table starting at startPosition
// (1-based). A non-zero since adds an incremental filter on the provider's
// last-updated metadata. Each returned document keeps the untouched response
// JSON alongside the decoded form.
func (c *Client) Query(ctx context.Context, entity string, since time.Time, startPosition int) ([]model.RawDocument, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s", entity)
	if !since.IsZero() {
		stmt += fmt.Sprintf(" WHERE Metadata.LastUpdatedTime >= '%s'", since.UTC().Format(time.RFC3339))
	}
	stmt += fmt.Sprintf(" STARTPOSITION %d MAXRESULTS %d", startPosition, c.cfg.PageSize)

	body, err := c.request(ctx, http.MethodPost, "/query", nil, []byte(stmt), "application/text")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode query response for %s: %w", entity, err)
	}

	var raws []json.RawMessage
	if page, ok := envelope.QueryResponse[entity]; ok {
		if err := json.Unmarshal(page, &raws); err != nil {
			return nil, fmt.Errorf("decode %s page: %w", entity, err)
		}
	}

	docs := make([]model.RawDocument, 0, len(raws))
	for _, raw := range raws {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", entity, err)
		}
		id, _ := data["Id"].(string)
		docs = append(docs, model.RawDocument{
			ClientID: c.clientID,
			Entity:   model.EntityType(entity),
			ID:       id,
			Data:     data,
			Raw:      raw,
		})
	}
	return docs, nil
}

// CompanyInfo fetches the tenant's company profile. Unlike entity tables this
// is a GET by realm ID, not a query.
func (c *Client) CompanyInfo(ctx context.Context) (model.RawDocument, error) {
	body, err := c.request(ctx, http.MethodGet, "/companyinfo/{realm}", nil, nil, "")
	if err != nil {
		return model.RawDocument{}, err
	}

	var envelope struct {
		CompanyInfo json.RawMessage `json:"CompanyInfo"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.RawDocument{}, fmt.Errorf("decode companyinfo response: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(envelope.CompanyInfo, &data); err != nil {
		return model.RawDocument{}, fmt.Errorf("decode companyinfo record: %w", err)
	}
	id, _ := data["Id"].(string)
	return model.RawDocument{
		ClientID: c.clientID,
		Entity:   model.EntityCompanyInfo,
		ID:       id,
		Data:     data,
		Raw:      envelope.CompanyInfo,
	}, nil
}

// Sequence pulls an entity table one document at a time, fetching pages
// lazily. Pagination stops when a page comes back shorter than the requested
// page size.
type Sequence struct {
	client *Client
	entity model.EntityType
	since  time.Time

	page []model.RawDocument
	idx  int
	next int // STARTPOSITION of the next page, 1-based
	done bool
}

// Extract starts a paginated pull of one entity table. CompanyInfo is served
// through its dedicated endpoint and yields a single document.
func (c *Client) Extract(entity model.EntityType, since time.Time) *Sequence {
	return &Sequence{client: c, entity: entity, since: since, next: 1}
}

// Next returns the next document, or ok=false when the table is exhausted.
func (s *Sequence) Next(ctx context.Context) (model.RawDocument, bool, error) {
	for s.idx >= len(s.page) {
		if s.done {
			return model.RawDocument{}, false, nil
		}
		if err := s.fetch(ctx); err != nil {
			return model.RawDocument{}, false, err
		}
	}
	doc := s.page[s.idx]
	s.idx++
	return doc, true, nil
}

func (s *Sequence) fetch(ctx context.Context) error {
	if s.entity == model.EntityCompanyInfo {
		doc, err := s.client.CompanyInfo(ctx)
		if err != nil {
			return err
		}
		s.page, s.idx, s.done = []model.RawDocument{doc}, 0, true
		return nil
	}

	page, err := s.client.Query(ctx, string(s.entity), s.since, s.next)
	if err != nil {
		return err
	}
	if len(page) < s.client.PageSize() {
		s.done = true
	}
	s.next += len(page)
	s.page, s.idx = page, 0
	return nil
}
