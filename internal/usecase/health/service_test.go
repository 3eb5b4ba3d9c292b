package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockIndexChecker struct {
	err   error
	calls int
}

func (m *mockIndexChecker) EnsureIndexReady(_ context.Context) error {
	m.calls++
	return m.err
}

type mockEmbeddingChecker struct {
	fn func(ctx context.Context) error
}

func (m *mockEmbeddingChecker) HealthCheck(ctx context.Context) error {
	if m.fn == nil {
		return nil
	}
	return m.fn(ctx)
}

func failing(msg string) *mockEmbeddingChecker {
	return &mockEmbeddingChecker{fn: func(context.Context) error { return errors.New(msg) }}
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockIndexChecker{}, &mockEmbeddingChecker{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	for _, name := range []string{ComponentDatabase, ComponentIndex, ComponentEmbedding} {
		if r.Checks[name].Result != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name].Result)
		}
	}
}

func TestCheck_DBErrorIsUnhealthy(t *testing.T) {
	idx := &mockIndexChecker{}
	svc := New(&mockDBPinger{err: errors.New("conn refused")}, idx, &mockEmbeddingChecker{})
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	db := r.Checks[ComponentDatabase]
	if db.Result != CheckError || db.Error != "conn refused" {
		t.Errorf("unexpected database check %+v", db)
	}
	if r.Checks[ComponentIndex].Result != CheckSkipped || idx.calls != 0 {
		t.Errorf("index check must be skipped when the store is down")
	}
	if r.Checks[ComponentEmbedding].Result != CheckOK {
		t.Errorf("embedding is checked independently, got %q", r.Checks[ComponentEmbedding].Result)
	}
}

func TestCheck_EmbeddingErrorIsDegraded(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockIndexChecker{}, failing("timeout"))
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks[ComponentEmbedding].Result != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks[ComponentEmbedding].Result)
	}
	if r.Checks[ComponentIndex].Result != CheckOK {
		t.Errorf("expected index %q, got %q", CheckOK, r.Checks[ComponentIndex].Result)
	}
}

func TestCheck_IndexErrorIsDegraded(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockIndexChecker{err: errors.New("not ready")}, nil)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if _, ok := r.Checks[ComponentEmbedding]; ok {
		t.Error("nil embedding checker must not be reported")
	}
}

func TestCheck_NilOptionalCheckers(t *testing.T) {
	svc := New(&mockDBPinger{}, nil, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if len(r.Checks) != 1 {
		t.Errorf("expected only the database check, got %v", r.Checks)
	}
}

func TestCheck_ProbeTimeout(t *testing.T) {
	slow := &mockEmbeddingChecker{fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	svc := New(&mockDBPinger{}, nil, slow)
	svc.timeout = 20 * time.Millisecond

	start := time.Now()
	r := svc.Check(context.Background())

	if time.Since(start) > time.Second {
		t.Fatal("check was not bounded by the timeout")
	}
	if r.Checks[ComponentEmbedding].Result != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks[ComponentEmbedding].Result)
	}
}
