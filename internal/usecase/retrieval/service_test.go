package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

// --- Mocks ---

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	texts   []string
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.texts = append(m.texts, text)
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type queryCall struct {
	ns   string
	topK int
	f    filter.Expression
}

type mockSearcher struct {
	queryFn func(ctx context.Context, ns string, vec []float32, topK int) ([]domain.Match, error)
	calls   []queryCall
}

func (m *mockSearcher) Query(ctx context.Context, ns string, vec []float32, topK int, f filter.Expression) ([]domain.Match, error) {
	m.calls = append(m.calls, queryCall{ns: ns, topK: topK, f: f})
	if m.queryFn != nil {
		return m.queryFn(ctx, ns, vec, topK)
	}
	return nil, nil
}

type stepUpdate struct {
	step   telemetry.StepName
	status telemetry.StepStatus
	errMsg string
}

type mockPublisher struct {
	mu      sync.Mutex
	updates []stepUpdate
	err     error
}

func (m *mockPublisher) UpdateStep(_ string, step telemetry.StepName, status telemetry.StepStatus, _ any, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, stepUpdate{step, status, errMsg})
	return m.err
}

func match(id, owner string, score float64) domain.Match {
	return domain.Match{
		ID:      id,
		Score:   score,
		Content: "content of " + id,
		Metadata: domain.ChunkMetadata{
			Source:      id + ".md",
			OwnerID:     owner,
			TotalChunks: 1,
			FileType:    domain.FileTypeMarkdown,
		},
	}
}

func returning(ms ...domain.Match) func(context.Context, string, []float32, int) ([]domain.Match, error) {
	return func(context.Context, string, []float32, int) ([]domain.Match, error) { return ms, nil }
}

func thr(v float64) *float64 { return &v }

func newService(e *mockEmbedder, s *mockSearcher, p Publisher) *Service {
	return New(e, s, p, Config{Threshold: DefaultThreshold}, nil)
}

// --- Tests ---

func TestRetrieve_BelowThresholdDropped(t *testing.T) {
	s := &mockSearcher{queryFn: returning(
		match("a", "alice", 0.9), match("b", "alice", 0.5), match("c", "alice", 0.3),
	)}
	svc := newService(&mockEmbedder{}, s, nil)

	res, err := svc.Retrieve(context.Background(), "what is go", "alice", Options{Threshold: thr(0.6)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 1 || res[0].RelevanceScore != 0.9 || res[0].ChunkID != "a" {
		t.Fatalf("expected only the 0.9 match, got %+v", res)
	}
}

func TestRetrieve_DeletedExcludedRegardlessOfScore(t *testing.T) {
	deleted := match("d", "alice", 0.95)
	deleted.Metadata.Deleted = true
	s := &mockSearcher{queryFn: returning(deleted, match("a", "alice", 0.4))}
	svc := newService(&mockEmbedder{}, s, nil)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{Threshold: thr(0)})
	if len(res) != 1 || res[0].ChunkID != "a" {
		t.Fatalf("expected deleted chunk excluded, got %+v", res)
	}
}

func TestRetrieve_ScopesToOwnerNamespace(t *testing.T) {
	s := &mockSearcher{queryFn: returning(match("a", "alice", 0.9), match("x", "bob", 0.99))}
	svc := newService(&mockEmbedder{}, s, nil)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{MaxDocs: 7})
	if len(s.calls) != 1 || s.calls[0].ns != "user_alice" || s.calls[0].topK != 7 {
		t.Fatalf("unexpected store call %+v", s.calls)
	}
	notDeleted := s.calls[0].f.MustNot()
	if len(notDeleted) != 1 || notDeleted[0].Key() != "deleted" {
		t.Errorf("expected deleted chunks excluded in the query, got %v", notDeleted)
	}
	for _, r := range res {
		if r.Metadata.OwnerID != "alice" {
			t.Errorf("foreign chunk returned: %+v", r)
		}
	}
}

func TestRetrieve_SortedAndCapped(t *testing.T) {
	s := &mockSearcher{queryFn: returning(
		match("a", "alice", 0.4), match("b", "alice", 0.8), match("c", "alice", 0.6), match("d", "alice", 0.7),
	)}
	svc := newService(&mockEmbedder{}, s, nil)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{MaxDocs: 3})
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}
	for i, want := range []string{"b", "d", "c"} {
		if res[i].ChunkID != want {
			t.Errorf("position %d: got %s, want %s", i, res[i].ChunkID, want)
		}
	}
}

func TestRetrieve_ThresholdMonotonic(t *testing.T) {
	s := &mockSearcher{queryFn: returning(
		match("a", "alice", 0.95), match("b", "alice", 0.7), match("c", "alice", 0.55),
		match("d", "alice", 0.3), match("e", "alice", 0.1),
	)}
	svc := newService(&mockEmbedder{}, s, nil)

	thresholds := []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1}
	var prev map[string]bool
	for _, th := range thresholds {
		res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{MaxDocs: 10, Threshold: thr(th)})
		cur := make(map[string]bool, len(res))
		for _, r := range res {
			cur[r.ChunkID] = true
			if prev != nil && !prev[r.ChunkID] {
				t.Errorf("threshold %v kept %s which a lower threshold dropped", th, r.ChunkID)
			}
		}
		if prev != nil && len(cur) > len(prev) {
			t.Errorf("threshold %v returned more results than a lower one", th)
		}
		prev = cur
	}
}

func TestRetrieve_DefaultThresholdFromConfig(t *testing.T) {
	s := &mockSearcher{queryFn: returning(match("a", "alice", 0.35), match("b", "alice", 0.25))}
	svc := newService(&mockEmbedder{}, s, nil)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{})
	if len(res) != 1 || res[0].ChunkID != "a" {
		t.Fatalf("expected default threshold 0.3 to apply, got %+v", res)
	}
}

func TestRetrieve_EmptyIsNotAnError(t *testing.T) {
	svc := newService(&mockEmbedder{}, &mockSearcher{}, nil)

	res, err := svc.Retrieve(context.Background(), "q", "alice", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", res)
	}
}

func TestRetrieve_FailuresDegradeToEmpty(t *testing.T) {
	cases := []struct {
		name  string
		emb   *mockEmbedder
		store *mockSearcher
		query string
		owner string
	}{
		{
			name:  "embedding failure",
			emb:   &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) { return nil, errors.New("provider down") }},
			store: &mockSearcher{},
			query: "q", owner: "alice",
		},
		{
			name: "store unavailable",
			emb:  &mockEmbedder{},
			store: &mockSearcher{queryFn: func(context.Context, string, []float32, int) ([]domain.Match, error) {
				return nil, &domain.StoreUnavailableError{Op: "query", Err: errors.New("conn refused")}
			}},
			query: "q", owner: "alice",
		},
		{name: "empty query", emb: &mockEmbedder{}, store: &mockSearcher{}, query: "  ", owner: "alice"},
		{name: "bad owner", emb: &mockEmbedder{}, store: &mockSearcher{}, query: "q", owner: "a:b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(tc.emb, tc.store, nil)
			res, err := svc.Retrieve(context.Background(), tc.query, tc.owner, Options{})
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if len(res) != 0 {
				t.Fatalf("expected empty result, got %+v", res)
			}
		})
	}
}

func TestRetrieve_ExpansionMergesKeepingBestScore(t *testing.T) {
	e := &mockEmbedder{}
	calls := 0
	s := &mockSearcher{queryFn: func(context.Context, string, []float32, int) ([]domain.Match, error) {
		calls++
		if calls == 1 {
			return []domain.Match{match("a", "alice", 0.5), match("b", "alice", 0.6)}, nil
		}
		return []domain.Match{match("a", "alice", 0.8)}, nil
	}}
	svc := newService(e, s, nil)

	res, _ := svc.Retrieve(context.Background(), "What is HNSW?", "alice", Options{Expand: true, MaxDocs: 5})

	if len(e.texts) < 2 || len(e.texts) > 4 {
		t.Fatalf("expected original plus 1-3 variants, embedded %v", e.texts)
	}
	if e.texts[0] != "What is HNSW?" {
		t.Errorf("original query must be embedded first, got %q", e.texts[0])
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 merged results, got %+v", res)
	}
	if res[0].ChunkID != "a" || res[0].RelevanceScore != 0.8 {
		t.Errorf("expected a with best score 0.8 first, got %+v", res[0])
	}
}

func TestRetrieve_PublishesSteps(t *testing.T) {
	p := &mockPublisher{}
	s := &mockSearcher{queryFn: returning(match("a", "alice", 0.9))}
	svc := newService(&mockEmbedder{}, s, p)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{SessionID: "s1"})
	svc.Assemble("s1", res)

	want := []stepUpdate{
		{telemetry.StepQueryEmbedding, telemetry.StepInProgress, ""},
		{telemetry.StepQueryEmbedding, telemetry.StepCompleted, ""},
		{telemetry.StepDocumentRetrieval, telemetry.StepInProgress, ""},
		{telemetry.StepDocumentRetrieval, telemetry.StepCompleted, ""},
		{telemetry.StepContextAssembly, telemetry.StepInProgress, ""},
		{telemetry.StepContextAssembly, telemetry.StepCompleted, ""},
	}
	if len(p.updates) != len(want) {
		t.Fatalf("expected %d updates, got %+v", len(want), p.updates)
	}
	for i := range want {
		if p.updates[i] != want[i] {
			t.Errorf("update %d: got %+v, want %+v", i, p.updates[i], want[i])
		}
	}
}

func TestRetrieve_PublishesStepError(t *testing.T) {
	p := &mockPublisher{err: telemetry.ErrSessionNotFound}
	e := &mockEmbedder{embedFn: func(context.Context, string) ([]float32, error) { return nil, errors.New("boom") }}
	svc := newService(e, &mockSearcher{}, p)

	if _, err := svc.Retrieve(context.Background(), "q", "alice", Options{SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := p.updates[len(p.updates)-1]
	if last.step != telemetry.StepQueryEmbedding || last.status != telemetry.StepError || !strings.Contains(last.errMsg, "boom") {
		t.Errorf("unexpected last update %+v", last)
	}
}

func TestRetrieve_NoSessionNoTelemetry(t *testing.T) {
	p := &mockPublisher{}
	svc := newService(&mockEmbedder{}, &mockSearcher{}, p)

	_, _ = svc.Retrieve(context.Background(), "q", "alice", Options{})
	if len(p.updates) != 0 {
		t.Errorf("expected no telemetry without session id, got %+v", p.updates)
	}
}

func TestRetrieve_SnippetAndPage(t *testing.T) {
	m := match("a", "alice", 0.9)
	m.Content = strings.Repeat("word ", 40)
	page := 4
	m.Metadata.Page = &page
	svc := newService(&mockEmbedder{}, &mockSearcher{queryFn: returning(m)}, nil)

	res, _ := svc.Retrieve(context.Background(), "q", "alice", Options{})
	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res))
	}
	if !strings.HasSuffix(res[0].Snippet, "...") || len([]rune(res[0].Snippet)) > 123 {
		t.Errorf("unexpected snippet %q", res[0].Snippet)
	}
	if res[0].Page == nil || *res[0].Page != 4 || res[0].Source != "a.md" {
		t.Errorf("unexpected result %+v", res[0])
	}
}
