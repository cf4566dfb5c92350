package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PineconeOptions configures the Pinecone vector index adapter.
type PineconeOptions struct {
	APIKey       string
	ControlPlane string // https://api.pinecone.io
	IndexHost    string // data-plane host; discovered from the control plane when empty
	IndexName    string
	Dimension    int
	Metric       string
	Cloud        string
	Region       string
	Timeout      time.Duration
	HTTPClient   *http.Client
	SkipEnsure   bool // skip the index check on construction (tests)
}

// PineconeStore is a VectorIndex backed by the Pinecone HTTP API.
type PineconeStore struct {
	client       *http.Client
	apiKey       string
	controlPlane string
	indexHost    string
	indexName    string
	dimension    int
	metric       string
	cloud        string
	region       string
	skipEnsure   bool

	mu        sync.Mutex
	verified  bool
	ensureErr error
}

// NewPineconeStore creates a Pinecone-backed vector index.
func NewPineconeStore(opts PineconeOptions) (*PineconeStore, error) {
	controlPlane := strings.TrimSuffix(strings.TrimSpace(opts.ControlPlane), "/")
	if controlPlane == "" {
		controlPlane = "https://api.pinecone.io"
	}

	indexName := opts.IndexName
	if indexName == "" {
		indexName = "financial-search-index"
	}

	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = 1536
	}

	metric := opts.Metric
	if metric == "" {
		metric = "cosine"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	store := &PineconeStore{
		client:       client,
		apiKey:       opts.APIKey,
		controlPlane: controlPlane,
		indexHost:    normalizeHost(opts.IndexHost),
		indexName:    indexName,
		dimension:    dimension,
		metric:       metric,
		cloud:        opts.Cloud,
		region:       opts.Region,
		skipEnsure:   opts.SkipEnsure,
	}

	if !store.skipEnsure {
		if err := store.EnsureIndex(context.Background(), indexName, dimension, metric); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// EnsureIndex creates the index if it does not exist and verifies dimension
// and metric otherwise. Safe to call repeatedly; the control plane is only
// consulted again when the requested parameters differ from the ones
// already verified.
func (s *PineconeStore) EnsureIndex(ctx context.Context, name string, dimension int, metric string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if name != "" && name != s.indexName {
		s.indexName = name
		changed = true
	}
	if dimension > 0 && dimension != s.dimension {
		s.dimension = dimension
		changed = true
	}
	if metric != "" && !strings.EqualFold(metric, s.metric) {
		s.metric = metric
		changed = true
	}

	if s.verified && !changed {
		return s.ensureErr
	}

	s.ensureErr = s.verifyIndex(ctx)
	s.verified = true
	return s.ensureErr
}

func (s *PineconeStore) verifyIndex(ctx context.Context) error {
	desc, status, err := s.describeIndex(ctx)
	if err != nil {
		return err
	}

	if status == http.StatusNotFound {
		created, err := s.createIndex(ctx)
		if err != nil {
			return err
		}
		if s.indexHost == "" {
			s.indexHost = normalizeHost(created.Host)
		}
		return nil
	}

	if desc.Dimension != s.dimension {
		return fmt.Errorf("%w: index %q has dimension %d, config wants %d",
			ErrConfigurationConflict, s.indexName, desc.Dimension, s.dimension)
	}
	if desc.Metric != "" && !strings.EqualFold(desc.Metric, s.metric) {
		return fmt.Errorf("%w: index %q uses metric %q, config wants %q",
			ErrConfigurationConflict, s.indexName, desc.Metric, s.metric)
	}

	if s.indexHost == "" {
		s.indexHost = normalizeHost(desc.Host)
	}
	if s.indexHost == "" {
		return fmt.Errorf("pinecone index %q: control plane returned no host", s.indexName)
	}

	return nil
}

// Upsert writes vectors to the index, overwriting matching ids.
func (s *PineconeStore) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	for _, vec := range vectors {
		if len(vec.Values) != s.dimension {
			return fmt.Errorf("%w: vector %q has dimension %d, index wants %d",
				ErrInvalidArgument, vec.ID, len(vec.Values), s.dimension)
		}
	}

	req := pineconeUpsertRequest{Vectors: vectors}
	var resp pineconeUpsertResponse
	if err := s.doDataRequest(ctx, "/vectors/upsert", req, &resp); err != nil {
		return err
	}
	if resp.UpsertedCount != len(vectors) {
		return fmt.Errorf("%w: upserted %d of %d vectors",
			ErrProviderUnavailable, resp.UpsertedCount, len(vectors))
	}
	return nil
}

// Query runs a top-k similarity search. Matches come back in the service's
// descending score order with stored metadata attached.
func (s *PineconeStore) Query(ctx context.Context, values []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}

	req := pineconeQueryRequest{
		Vector:          values,
		TopK:            topK,
		IncludeMetadata: true,
	}
	if len(filter) > 0 {
		req.Filter = eqFilter(filter)
	}

	var resp pineconeQueryResponse
	if err := s.doDataRequest(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		results = append(results, SearchResult{
			ID:       match.ID,
			Score:    match.Score,
			Metadata: match.Metadata,
		})
	}

	return results, nil
}

type pineconeIndexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
}

func (s *PineconeStore) describeIndex(ctx context.Context) (*pineconeIndexDescription, int, error) {
	url := fmt.Sprintf("%s/indexes/%s", s.controlPlane, s.indexName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build describe request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: describe index: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, http.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, readAPIError(resp)
	}

	var desc pineconeIndexDescription
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode describe response: %w", err)
	}
	return &desc, resp.StatusCode, nil
}

func (s *PineconeStore) createIndex(ctx context.Context) (*pineconeIndexDescription, error) {
	cloud := s.cloud
	if cloud == "" {
		cloud = "aws"
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}

	body := map[string]any{
		"name":      s.indexName,
		"dimension": s.dimension,
		"metric":    s.metric,
		"spec": map[string]any{
			"serverless": map[string]any{
				"cloud":  cloud,
				"region": region,
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	url := fmt.Sprintf("%s/indexes", s.controlPlane)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build create request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create index: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var desc pineconeIndexDescription
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &desc, nil
}

type pineconeUpsertRequest struct {
	Vectors []Vector `json:"vectors"`
}

type pineconeUpsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type pineconeQueryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter,omitempty"`
}

type pineconeMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type pineconeQueryResponse struct {
	Matches []pineconeMatch `json:"matches"`
}

func (s *PineconeStore) doDataRequest(ctx context.Context, path string, body, out any) error {
	if s.indexHost == "" {
		return fmt.Errorf("pinecone index host not resolved, EnsureIndex must run first")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.indexHost+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *PineconeStore) setHeaders(req *http.Request) {
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// readAPIError folds a non-2xx response into the error taxonomy: client
// errors are invalid arguments, everything else is transient.
func readAPIError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))

	if resp.StatusCode >= 400 && resp.StatusCode < 429 {
		return fmt.Errorf("%w: pinecone status %d: %s", ErrInvalidArgument, resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: pinecone status %d: %s", ErrProviderUnavailable, resp.StatusCode, msg)
}

// eqFilter renders key/value equality constraints in the service's filter
// language: {"key": {"$eq": "value"}}.
func eqFilter(filter map[string]string) map[string]any {
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

// normalizeHost prefixes a bare data-plane host with https.
func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		return "https://" + host
	}
	return host
}
