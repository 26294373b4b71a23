package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{"results": [
	{"page_content": "We agreed to roll back behind a flag.", "score": 0.92, "metadata": {"doc_id": "d1", "doc_name": "Retro", "source": "minutes"}},
	{"page_content": "Budget was approved.", "score": 0.81, "metadata": {"doc_id": "d2", "doc_name": "Budget"}},
	{"page_content": "Lunch options.", "score": 0.40, "metadata": {"doc_id": "d3"}}
]}`

func newSearchServer(t *testing.T, captured *searchRequest, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, searchPath, r.URL.Path)
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchAppliesThresholdAndKeepsOrder(t *testing.T) {
	var captured searchRequest
	srv := newSearchServer(t, &captured, http.StatusOK, sampleResponse)
	client := NewClient(Config{BaseURL: srv.URL + "/", ScoreThreshold: 0.7}, nil, nil)

	docs, err := client.Search(context.Background(), "rollback?", Scope{DocumentIDs: []string{"d1", "d2"}}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].DocumentID)
	assert.Equal(t, "Retro", docs[0].Title)
	assert.Equal(t, "minutes", docs[0].Source)
	assert.Equal(t, "d2", docs[1].DocumentID)

	assert.Equal(t, "rollback?", captured.Query)
	assert.Equal(t, 5, captured.TopK)
	assert.Equal(t, []string{"master_documents"}, captured.Indices)
	require.NotNil(t, captured.Filter)
	assert.Equal(t, []string{"d1", "d2"}, captured.Filter.DocumentIDs)
	assert.Empty(t, captured.Filter.DocumentType)
}

func TestSearchMeetingOnlyFilter(t *testing.T) {
	var captured searchRequest
	srv := newSearchServer(t, &captured, http.StatusOK, `{"results": []}`)
	client := NewClient(Config{BaseURL: srv.URL}, nil, nil)

	docs, err := client.Search(context.Background(), "q", Scope{MeetingOnly: true}, 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 3, captured.TopK)
	require.NotNil(t, captured.Filter)
	assert.Equal(t, "meeting", captured.Filter.DocumentType)
}

func TestSearchFailuresAreUnavailable(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := newSearchServer(t, nil, http.StatusBadGateway, "upstream down")
		_, err := NewClient(Config{BaseURL: srv.URL}, nil, nil).Search(context.Background(), "q", Scope{}, 0)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
	t.Run("decode", func(t *testing.T) {
		srv := newSearchServer(t, nil, http.StatusOK, "not json")
		_, err := NewClient(Config{BaseURL: srv.URL}, nil, nil).Search(context.Background(), "q", Scope{}, 0)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
	t.Run("unconfigured", func(t *testing.T) {
		_, err := NewClient(Config{}, nil, nil).Search(context.Background(), "q", Scope{}, 0)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestRetrieveImplementsEinoRetriever(t *testing.T) {
	var captured searchRequest
	srv := newSearchServer(t, &captured, http.StatusOK, sampleResponse)
	client := NewClient(Config{BaseURL: srv.URL, ScoreThreshold: 0.7}, nil, nil)

	docs, err := client.Retrieve(context.Background(), "rollback?",
		retriever.WithTopK(1),
		retriever.WithScoreThreshold(0.5),
		retriever.WithIndex("archive"),
	)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.InDelta(t, 0.92, docs[0].Score(), 1e-9)
	assert.Equal(t, []string{"archive"}, captured.Indices)
	assert.Equal(t, 1, captured.TopK)
}
