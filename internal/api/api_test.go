package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/opsrag/internal/answer"
	"github.com/dgallion1/opsrag/internal/blob"
	"github.com/dgallion1/opsrag/internal/config"
	"github.com/dgallion1/opsrag/internal/extractor"
	"github.com/dgallion1/opsrag/internal/llm"
	"github.com/dgallion1/opsrag/internal/pipeline"
	"github.com/dgallion1/opsrag/internal/planner"
	"github.com/dgallion1/opsrag/internal/quality"
	"github.com/dgallion1/opsrag/internal/query"
	"github.com/dgallion1/opsrag/internal/retriever"
	"github.com/dgallion1/opsrag/internal/store"
	"github.com/dgallion1/opsrag/internal/store/memory"
)

const testKey = "test-key"

// keywordEmbedder maps text onto a few keyword axes so searches are
// predictable.
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float32{
			float32(strings.Count(t, "valve")),
			float32(strings.Count(t, "pump")),
			float32(strings.Count(t, "invoice")),
			0.1,
		}
	}
	return out, nil
}

type tokenStream struct{ tokens []string }

func (s *tokenStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *tokenStream) Close() error { return nil }

type fakeGenerator struct{}

func (fakeGenerator) Stream(context.Context, []llm.Message) (llm.TokenStream, error) {
	return &tokenStream{tokens: []string{"Close ", "the inlet valve."}}, nil
}

type testEnv struct {
	handler http.Handler
	blobs   *blob.Dir
	store   *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.MaxUploadBytes = 1 << 20

	blobs, err := blob.NewDir(t.TempDir())
	require.NoError(t, err)
	st := memory.New()

	worker := pipeline.NewWorker(pipeline.Deps{
		Blobs:     blobs,
		Extractor: extractor.New(false),
		Policy:    quality.DefaultPolicy(),
		Embedder:  keywordEmbedder{},
		Store:     st,
		Log:       log,
	})
	orch := pipeline.NewOrchestrator(cfg, worker, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	ret := retriever.New(keywordEmbedder{}, st, retriever.Config{}, log)
	svc := query.NewService(planner.New(nil, 0, log), ret, answer.NewStreamer(fakeGenerator{}, log),
		query.Config{Threshold: 0.5}, log)

	stats := llm.NewRegistry(time.Hour)
	stats.For("generation").Record(120)

	srv := NewServer(Deps{
		Worker:       worker,
		Orchestrator: orch,
		Blobs:        blobs,
		Store:        st,
		Query:        svc,
		Stats:        stats,
	}, log, cfg)
	return &testEnv{handler: srv, blobs: blobs, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, method, path, bytes.NewReader(b), "application/json")
}

const pumpManual = `Pump maintenance.

Before servicing the pump, close the inlet valve and the outlet valve. Confirm the valve handles are locked.

Drain the pump casing and verify the pressure gauge reads zero before removing the cover.`

func (e *testEnv) ingest(t *testing.T, docID, ref string) pipeline.Result {
	t.Helper()
	require.NoError(t, e.blobs.Put(context.Background(), ref, []byte(pumpManual)))
	rec := e.doJSON(t, http.MethodPost, "/api/ingest", pipeline.Request{
		DocumentID:   docID,
		OwnerID:      "owner-a",
		StorageRef:   ref,
		OriginalName: "pump-manual.txt",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents?owner_id=a", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents?owner_id=a", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid api key"}`, rec.Body.String())
}

func TestIngestAndList(t *testing.T) {
	env := newTestEnv(t)
	res := env.ingest(t, "doc-1", "owner-a/pump.txt")
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.GreaterOrEqual(t, res.ChunksCount, 1)
	require.NotNil(t, res.Summary)

	rec := env.do(t, http.MethodGet, "/api/documents?owner_id=owner-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Documents []store.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Documents, 1)
	assert.Equal(t, store.StatusPersisted, body.Documents[0].Status)
	assert.Equal(t, "pump-manual.txt", body.Documents[0].OriginalName)

	rec = env.do(t, http.MethodGet, "/api/documents?owner_id=owner-b", nil, "")
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())
}

func TestIngestErrors(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.blobs.Put(context.Background(), "owner-a/pump.txt", []byte(pumpManual)))
	env.ingest(t, "doc-owned", "owner-a/pump.txt")

	tests := []struct {
		name   string
		body   any
		code   int
		reason string
	}{
		{"missing fields", pipeline.Request{DocumentID: "d"}, http.StatusBadRequest, pipeline.ReasonInvalidRequest},
		{"missing source", pipeline.Request{DocumentID: "d", OwnerID: "owner-a", StorageRef: "owner-a/none.txt", OriginalName: "none.txt"},
			http.StatusNotFound, pipeline.ReasonSourceNotFound},
		{"unsupported mime", pipeline.Request{DocumentID: "d", OwnerID: "owner-a", StorageRef: "owner-a/pump.txt", OriginalName: "photo.png", MimeType: "image/png"},
			http.StatusUnsupportedMediaType, pipeline.ReasonUnsupportedFormat},
		{"unsupported extension", pipeline.Request{DocumentID: "d", OwnerID: "owner-a", StorageRef: "owner-a/pump.txt", OriginalName: "photo.png"},
			http.StatusUnsupportedMediaType, pipeline.ReasonUnsupportedFormat},
		{"owner mismatch", pipeline.Request{DocumentID: "doc-owned", OwnerID: "owner-b", StorageRef: "owner-a/pump.txt", OriginalName: "pump.txt"},
			http.StatusForbidden, pipeline.ReasonOwnerMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPost, "/api/ingest", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.reason, body["reason"])
			assert.NotEmpty(t, body["error"])
		})
	}

	rec := env.do(t, http.MethodPost, "/api/ingest", strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStreamsAnswerWithSources(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "doc-1", "owner-a/pump.txt")

	rec := env.doJSON(t, http.MethodPost, "/api/query", query.Request{
		OwnerID:   "owner-a",
		Question:  "Which valve do I close?",
		Verbosity: query.VerbosityConcise,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	text, trailer, found := strings.Cut(rec.Body.String(), answer.SourcesSentinel)
	require.True(t, found, rec.Body.String())
	assert.Equal(t, "Close the inlet valve.", text)

	var sources []answer.Source
	require.NoError(t, json.Unmarshal([]byte(trailer), &sources))
	require.NotEmpty(t, sources)
	assert.Equal(t, "pump-manual.txt", sources[0].FileName)
	assert.Contains(t, sources[0].Snippet, "valve")
}

func TestQueryWithoutMatches(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "doc-1", "owner-a/pump.txt")

	rec := env.doJSON(t, http.MethodPost, "/api/query", query.Request{OwnerID: "owner-a", Question: "Where is the invoice?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Close the inlet valve.", rec.Body.String())

	rec = env.doJSON(t, http.MethodPost, "/api/query", query.Request{OwnerID: "owner-b", Question: "Which valve?"})
	assert.NotContains(t, rec.Body.String(), answer.SourcesSentinel)
}

func TestQueryInvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/query", query.Request{OwnerID: "owner-a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"question is required"}`, rec.Body.String())
}

func multipartBody(t *testing.T, owner string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("owner_id", owner))
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestBatchIngest(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "owner-a", map[string]string{
		"pump-manual.txt": pumpManual,
		"diagram.png":     "\x89PNG",
	})

	rec := env.do(t, http.MethodPost, "/api/ingest/batch", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Jobs []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)

	var jobID, docID string
	for _, j := range resp.Jobs {
		switch j["filename"] {
		case "diagram.png":
			assert.Contains(t, j["error"], "unsupported file type")
		case "pump-manual.txt":
			jobID, _ = j["job_id"].(string)
			docID, _ = j["document_id"].(string)
		}
	}
	require.NotEmpty(t, jobID)

	var snap pipeline.JobSnapshot
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/ingest/"+jobID+"/status", nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = pipeline.JobSnapshot{}
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			return false
		}
		return snap.Status == pipeline.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, docID, snap.DocumentID)

	doc, err := env.store.GetDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ContentHashHex([]byte(pumpManual))+".txt", doc.StorageRef)
	data, err := env.blobs.Get(context.Background(), doc.StorageRef)
	require.NoError(t, err)
	assert.Equal(t, pumpManual, string(data))
}

func TestBatchIngestValidation(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "", map[string]string{"a.txt": "x"})
	rec := env.do(t, http.MethodPost, "/api/ingest/batch", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "owner-a", nil)
	rec = env.do(t, http.MethodPost, "/api/ingest/batch", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/ingest/nope/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDocumentRemovesOrphanedBlob(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "doc-1", "owner-a/shared.txt")
	env.ingest(t, "doc-2", "owner-a/shared.txt")

	rec := env.do(t, http.MethodDelete, "/api/documents/doc-1?owner_id=owner-b", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/documents/doc-1?owner_id=owner-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"document_id":"doc-1","storage_name":"shared.txt","blob_deleted":false}`, rec.Body.String())
	_, err := env.blobs.Get(context.Background(), "owner-a/shared.txt")
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/api/documents/doc-2?owner_id=owner-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"document_id":"doc-2","storage_name":"shared.txt","blob_deleted":true}`, rec.Body.String())
	_, err = env.blobs.Get(context.Background(), "owner-a/shared.txt")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	rec = env.do(t, http.MethodDelete, "/api/documents/doc-2?owner_id=owner-a", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.store.Chunks("doc-2"))
}

func TestLLMStats(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/stats/llm", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Stats      map[string]llm.StatsSnapshot `json:"stats"`
		QueueDepth int                          `json:"queue_depth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Stats, "generation")
	assert.Equal(t, 1, body.Stats["generation"].Count)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"manual.pdf":             "manual.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\ops\notes.txt`: "notes.txt",
		"a..b.txt":               "a_b.txt",
		"":                       "unnamed",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
}
