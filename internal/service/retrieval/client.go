// Package retrieval 调用索引会议文档的混合检索服务。
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// ErrUnavailable 包装传输、状态码和解码失败。
var ErrUnavailable = errors.New("retrieval unavailable")

const searchPath = "/search/hybrid-reranked"

// Config 描述检索服务配置。
type Config struct {
	BaseURL        string
	Indices        []string
	TopK           int
	ScoreThreshold float64
	Timeout        time.Duration
}

// Scope 限定检索范围。
type Scope struct {
	DocumentIDs []string
	MeetingOnly bool
}

// Client hybrid-reranked 检索接口的 HTTP 客户端。
type Client struct {
	baseURL    string
	indices    []string
	topK       int
	threshold  float64
	httpClient *http.Client
	logger     *slog.Logger
}

var _ retriever.Retriever = (*Client)(nil)

// NewClient 创建检索客户端，httpClient 可以为 nil。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	indices := cfg.Indices
	if len(indices) == 0 {
		indices = []string{"master_documents"}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		indices:    indices,
		topK:       topK,
		threshold:  cfg.ScoreThreshold,
		httpClient: httpClient,
		logger:     logger.With("component", "retrieval"),
	}
}

type searchFilter struct {
	DocumentIDs  []string `json:"document_ids,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
}

type searchRequest struct {
	Query   string        `json:"query"`
	TopK    int           `json:"top_k"`
	Indices []string      `json:"indices"`
	Filter  *searchFilter `json:"filter,omitempty"`
}

type searchResult struct {
	PageContent string  `json:"page_content"`
	Score       float64 `json:"score"`
	Metadata    struct {
		DocID   string `json:"doc_id"`
		DocName string `json:"doc_name"`
		Source  string `json:"source"`
	} `json:"metadata"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Search 按相关度返回至多 limit 个文档，limit <= 0 使用配置的 top-k。
// 低于分数阈值的结果被丢弃。
func (c *Client) Search(ctx context.Context, query string, scope Scope, limit int) ([]conversation.RetrievedDocument, error) {
	if limit <= 0 {
		limit = c.topK
	}
	return c.search(ctx, query, scope, limit, c.indices, c.threshold)
}

func (c *Client) search(ctx context.Context, query string, scope Scope, limit int, indices []string, threshold float64) ([]conversation.RetrievedDocument, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: no search endpoint configured", ErrUnavailable)
	}

	payload := searchRequest{Query: query, TopK: limit, Indices: indices}
	if len(scope.DocumentIDs) > 0 || scope.MeetingOnly {
		payload.Filter = &searchFilter{DocumentIDs: scope.DocumentIDs}
		if scope.MeetingOnly {
			payload.Filter.DocumentType = "meeting"
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: search returned status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err)
	}

	documents := make([]conversation.RetrievedDocument, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.Score < threshold {
			continue
		}
		docID := item.Metadata.DocID
		if docID == "" {
			docID = "unknown_doc_id"
		}
		documents = append(documents, conversation.RetrievedDocument{
			DocumentID: docID,
			Score:      item.Score,
			Excerpt:    item.PageContent,
			Title:      item.Metadata.DocName,
			Source:     item.Metadata.Source,
		})
		if len(documents) == limit {
			break
		}
	}

	c.logger.Debug("search finished", "query_len", len(query), "results", len(decoded.Results), "kept", len(documents))
	return documents, nil
}

// Retrieve 实现 retriever.Retriever。文档 id 过滤可以通过 DSLInfo["document_ids"] 传入。
func (c *Client) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := c.topK
	threshold := c.threshold
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, ScoreThreshold: &threshold}, opts...)

	indices := c.indices
	if options.Index != nil && *options.Index != "" {
		indices = []string{*options.Index}
	}
	var scope Scope
	if ids, ok := options.DSLInfo["document_ids"].([]string); ok {
		scope.DocumentIDs = ids
	}

	limit := c.topK
	if options.TopK != nil && *options.TopK > 0 {
		limit = *options.TopK
	}
	minScore := c.threshold
	if options.ScoreThreshold != nil {
		minScore = *options.ScoreThreshold
	}

	found, err := c.search(ctx, query, scope, limit, indices, minScore)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, len(found))
	for _, doc := range found {
		d := &schema.Document{
			ID:      doc.DocumentID,
			Content: doc.Excerpt,
			MetaData: map[string]any{
				"title":  doc.Title,
				"source": doc.Source,
			},
		}
		docs = append(docs, d.WithScore(doc.Score))
	}
	return docs, nil
}
