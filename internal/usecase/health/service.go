package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means the store answers but a dependent component does not.
	Degraded Status = "degraded"
	// Unhealthy means the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckSkipped is reported when the store is down and the check depends on it.
	CheckSkipped CheckResult = "skipped"
)

// Component names used in Report.Checks.
const (
	ComponentDatabase  = "database"
	ComponentIndex     = "index"
	ComponentEmbedding = "embedding"
)

const defaultCheckTimeout = 3 * time.Second

// Check is the outcome of one component check.
type Check struct {
	Result  CheckResult
	Error   string
	Latency time.Duration
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]Check
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	index     IndexChecker
	embedding EmbeddingChecker
	timeout   time.Duration
}

// New creates a Service. index and embedding can be nil.
func New(db DBPinger, index IndexChecker, embedding EmbeddingChecker) *Service {
	return &Service{db: db, index: index, embedding: embedding, timeout: defaultCheckTimeout}
}

// Check pings the store first; the index and the embedding provider are
// checked concurrently afterwards, each bounded by the check timeout.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]Check, 3)

	db := s.checkOne(ctx, s.db.Ping)
	checks[ComponentDatabase] = db
	if db.Result != CheckOK {
		if s.index != nil {
			checks[ComponentIndex] = Check{Result: CheckSkipped}
		}
		if s.embedding != nil {
			checks[ComponentEmbedding] = s.checkOne(ctx, s.embedding.HealthCheck)
		}
		return Report{Status: Unhealthy, Checks: checks}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			c := s.checkOne(ctx, fn)
			mu.Lock()
			checks[name] = c
			mu.Unlock()
			return nil
		})
	}
	if s.index != nil {
		run(ComponentIndex, s.index.EnsureIndexReady)
	}
	if s.embedding != nil {
		run(ComponentEmbedding, s.embedding.HealthCheck)
	}
	_ = g.Wait()

	status := Healthy
	for _, c := range checks {
		if c.Result == CheckError {
			status = Degraded
			break
		}
	}
	return Report{Status: status, Checks: checks}
}

func (s *Service) checkOne(ctx context.Context, fn func(context.Context) error) Check {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c := Check{Result: CheckOK, Latency: time.Since(start)}
	if err != nil {
		c.Result = CheckError
		c.Error = err.Error()
	}
	return c
}
