package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
)

type Config struct {
	Url      string `env:"ELASTIC_URL" envDefault:"http://localhost:9200"`
	Index    string `env:"ELASTIC_INDEX" envDefault:"emails"`
	Username string `env:"ELASTIC_USERNAME"`
	Password string `env:"ELASTIC_PASSWORD"`
	Timeout  int    `env:"ELASTIC_TIMEOUT_SECONDS" envDefault:"30"`
}

// indexMapping pins field types so date sorting and keyword filters
// behave the same regardless of which document arrives first.
var indexMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"from":       map[string]interface{}{"type": "text"},
			"subject":    map[string]interface{}{"type": "text"},
			"body_html":  map[string]interface{}{"type": "text"},
			"body_text":  map[string]interface{}{"type": "text"},
			"date":       map[string]interface{}{"type": "date"},
			"messageId":  map[string]interface{}{"type": "keyword"},
			"label":      map[string]interface{}{"type": "keyword"},
			"account_id": map[string]interface{}{"type": "keyword"},
			"imap_user":  map[string]interface{}{"type": "keyword"},
			"seen":       map[string]interface{}{"type": "boolean"},
			"uid":        map[string]interface{}{"type": "long"},
		},
	},
}

type elasticIndexWriter struct {
	config *Config
	client *http.Client
}

// NewElasticIndexWriter talks to an Elasticsearch-compatible endpoint
// over its REST API.
func NewElasticIndexWriter(config *Config) interfaces.IndexWriter {
	return &elasticIndexWriter{
		config: config,
		client: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

func (s *elasticIndexWriter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.Url+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}
	return req, nil
}

// EnsureIndex creates the index with its mapping if it does not exist
// yet. A HEAD hit means another instance already created it.
func (s *elasticIndexWriter) EnsureIndex(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "elasticIndexWriter.EnsureIndex")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	req, err := s.newRequest(ctx, "HEAD", "/"+s.config.Index, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to check index")
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal mapping")
	}
	req, err = s.newRequest(ctx, "PUT", "/"+s.config.Index, bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create index")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("index creation failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Id     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert writes all records in a single _bulk call. Document ids
// come from the records, so re-sending the same batch overwrites in
// place instead of duplicating. Per-document failures are reported in
// the result rather than failing the whole batch.
func (s *elasticIndexWriter) BulkUpsert(ctx context.Context, records []*models.EmailRecord) (*interfaces.BulkResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "elasticIndexWriter.BulkUpsert")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("records", len(records))

	result := &interfaces.BulkResult{Failed: map[string]string{}}
	if len(records) == 0 {
		return result, nil
	}

	var body bytes.Buffer
	for _, record := range records {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": s.config.Index,
				"_id":    record.ID,
			},
		}
		actionBytes, err := json.Marshal(action)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to marshal bulk action")
		}
		docBytes, err := json.Marshal(record)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to marshal record")
		}
		body.Write(actionBytes)
		body.WriteByte('\n')
		body.Write(docBytes)
		body.WriteByte('\n')
	}

	req, err := s.newRequest(ctx, "POST", "/_bulk", &body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "bulk request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("bulk request failed with status code %d: %s", resp.StatusCode, string(respBody))
		tracing.TraceErr(span, err)
		return nil, err
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to decode bulk response")
	}

	for _, item := range bulkResp.Items {
		for _, outcome := range item {
			if outcome.Status >= 200 && outcome.Status < 300 {
				result.Indexed++
			} else {
				reason := fmt.Sprintf("status %d", outcome.Status)
				if outcome.Error != nil {
					reason = fmt.Sprintf("%s: %s", outcome.Error.Type, outcome.Error.Reason)
				}
				result.Failed[outcome.Id] = reason
			}
		}
	}
	if len(result.Failed) > 0 {
		span.LogKV("failed", len(result.Failed))
	}
	return result, nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Id     string             `json:"_id"`
			Source models.EmailRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a full-text query over the addressable fields, newest
// first. An empty query matches everything; accountID narrows the
// results to one mailbox.
func (s *elasticIndexWriter) Search(ctx context.Context, query, accountID string, limit int) ([]*models.EmailRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "elasticIndexWriter.Search")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if limit <= 0 {
		limit = 50
	}

	var must interface{}
	if query == "" {
		must = map[string]interface{}{"match_all": map[string]interface{}{}}
	} else {
		must = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"subject^2", "from", "body_text", "label"},
				"type":   "best_fields",
			},
		}
	}

	boolQuery := map[string]interface{}{"must": []interface{}{must}}
	if accountID != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{
				"term": map[string]interface{}{"account_id": accountID},
			},
		}
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"size":  limit,
		"sort": []interface{}{
			map[string]interface{}{"date": map[string]interface{}{"order": "desc"}},
		},
	}

	payload, err := json.Marshal(esQuery)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to marshal query")
	}

	req, err := s.newRequest(ctx, "POST", "/"+s.config.Index+"/_search", bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("search failed with status code %d: %s", resp.StatusCode, string(respBody))
		tracing.TraceErr(span, err)
		return nil, err
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	records := make([]*models.EmailRecord, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		record := hit.Source
		record.ID = hit.Id
		records = append(records, &record)
	}
	return records, nil
}

// Count returns the number of documents in the index.
func (s *elasticIndexWriter) Count(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "elasticIndexWriter.Count")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	req, err := s.newRequest(ctx, "GET", "/"+s.config.Index+"/_count", nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "count request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("count failed with status code %d: %s", resp.StatusCode, string(respBody))
		tracing.TraceErr(span, err)
		return 0, err
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to decode count response")
	}
	return countResp.Count, nil
}
