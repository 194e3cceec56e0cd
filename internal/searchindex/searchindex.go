// Package searchindex maintains an optional Meilisearch index of secret
// names, never values, so that List can answer quickly and fuzzily
// across backends that would otherwise require a full enumeration.
package searchindex

import (
	"fmt"

	"github.com/meilisearch/meilisearch-go"
	"github.com/zeromicro/go-zero/core/logx"
)

const defaultIndexName = "vaultkeeper-secrets"

// entry is the only document shape ever written to the index: a backend
// type and a secret name. The secret's value never appears here.
type entry struct {
	ID          string `json:"id"`
	BackendType string `json:"backendType"`
	Name        string `json:"name"`
}

// Index wraps a Meilisearch index dedicated to secret names.
type Index struct {
	client    meilisearch.ServiceManager
	indexName string
}

// Connect dials Meilisearch at url, authenticates with apiKey, and
// verifies reachability via a health check before returning. indexName
// defaults to "vaultkeeper-secrets" when empty.
func Connect(url, apiKey, indexName string) (*Index, error) {
	if indexName == "" {
		indexName = defaultIndexName
	}

	client := meilisearch.New(url, meilisearch.WithAPIKey(apiKey))
	if _, err := client.Health(); err != nil {
		logx.Errorf("searchindex: failed to reach meilisearch: %v", err)
		return nil, fmt.Errorf("searchindex: connecting: %w", err)
	}

	idx := &Index{client: client, indexName: indexName}
	if err := idx.ensureIndex(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureIndex() error {
	_, err := idx.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        idx.indexName,
		PrimaryKey: "id",
	})
	if err != nil {
		logx.Errorf("searchindex: failed to create index %s: %v", idx.indexName, err)
		return fmt.Errorf("searchindex: creating index: %w", err)
	}
	return nil
}

func docID(backendType, name string) string {
	return backendType + ":" + name
}

// Upsert records that a secret named name exists in backendType. It
// never receives or stores the secret's value.
func (idx *Index) Upsert(backendType, name string) error {
	doc := entry{ID: docID(backendType, name), BackendType: backendType, Name: name}
	_, err := idx.client.Index(idx.indexName).AddDocuments([]entry{doc}, nil)
	if err != nil {
		logx.Errorf("searchindex: failed to index %s/%s: %v", backendType, name, err)
		return fmt.Errorf("searchindex: upsert: %w", err)
	}
	return nil
}

// Remove deletes a previously indexed secret name.
func (idx *Index) Remove(backendType, name string) error {
	_, err := idx.client.Index(idx.indexName).DeleteDocument(docID(backendType, name))
	if err != nil {
		logx.Errorf("searchindex: failed to remove %s/%s: %v", backendType, name, err)
		return fmt.Errorf("searchindex: remove: %w", err)
	}
	return nil
}

// Search performs a fuzzy name lookup, optionally restricted to
// backendType (pass "" to search across all backends), returning at
// most limit names.
func (idx *Index) Search(query, backendType string, limit int) ([]string, error) {
	req := &meilisearch.SearchRequest{Limit: int64(limit)}
	if backendType != "" {
		req.Filter = fmt.Sprintf("backendType = %q", backendType)
	}

	res, err := idx.client.Index(idx.indexName).Search(query, req)
	if err != nil {
		logx.Errorf("searchindex: search failed: %v", err)
		return nil, fmt.Errorf("searchindex: search: %w", err)
	}

	names := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		m, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		if name, ok := m["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
