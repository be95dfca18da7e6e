package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexDeal indexes a deal document. The owner_id field is part of the
// document so searches stay owner-scoped.
func (c *ElasticClient) IndexDeal(ctx context.Context, deal *models.DealEvent) error {
	dealDoc := map[string]interface{}{
		"id":             deal.ID.String(),
		"owner_id":       deal.OwnerID.String(),
		"deal_timestamp": deal.DealTimestamp,
		"product_id":     deal.ProductID.String(),
		"unit_code":      deal.UnitCode,
		"currency_code":  deal.CurrencyCode,
		"quantity":       deal.Quantity,
		"fixed_price":    deal.FixedPrice,
		"direction":      deal.Direction,
		"effective_date": deal.EffectiveDate,
		"delivery_start": deal.DeliveryStart,
		"delivery_end":   deal.DeliveryEnd,
		"price_type":     deal.PriceType,
		"notes":          deal.Notes,
	}
	if deal.CounterpartyID != nil {
		dealDoc["counterparty_id"] = deal.CounterpartyID.String()
	}

	docJSON, err := json.Marshal(dealDoc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal deal document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: deal.ID.String(),
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("deal_id", deal.ID.String()).Msg("deal indexed")
	return nil
}

// SearchDeals runs a full-text query over the caller's own deals. The owner
// filter is applied server-side, never left to the caller.
func (c *ElasticClient) SearchDeals(ctx context.Context, ownerID uuid.UUID, query string, size int) ([]map[string]interface{}, error) {
	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"multi_match": map[string]interface{}{
							"query":  query,
							"fields": []string{"notes", "unit_code", "currency_code", "direction", "price_type"},
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{"owner_id": ownerID.String()},
					},
				},
			},
		},
	}

	queryJSON, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}

	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		docs = append(docs, source)
	}

	return docs, nil
}
