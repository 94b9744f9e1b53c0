package launcher

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/mq"
)

func newOperationRun(kind, class string) *domain.OperationRun {
	return &domain.OperationRun{
		ID:            uuid.New(),
		PipelineRunID: uuid.New(),
		Operation: domain.Operation{
			Name:             "train",
			Kind:             kind,
			ConcurrencyClass: class,
			Config:           map[string]any{"image": "trainer"},
		},
		Status: domain.OperationStatusCreated,
	}
}

// --- Registry Tests ---

func TestRegistry_Launch(t *testing.T) {
	registry := NewRegistry()
	registry.Register("job", AcceptAll)
	registry.Register("later", Func(func(context.Context, *domain.OperationRun) (Result, error) {
		return Defer("busy"), nil
	}))

	tests := []struct {
		kind string
		want Decision
	}{
		{"job", Accepted},
		{"later", Deferred},
		{"unknown", Rejected},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			res, err := registry.Launch(context.Background(), newOperationRun(tt.kind, ""))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Decision != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Decision)
			}
		})
	}
}

func TestRegistry_Check(t *testing.T) {
	counter := &fakeCounter{active: map[string]int{"gpu": 1}}
	registry := NewRegistry()
	registry.Register("job", AcceptAll)
	registry.Register("train", NewClassLimiter(counter, map[string]int{"gpu": 1}, AcceptAll))

	tests := []struct {
		name string
		kind string
		want Decision
	}{
		{"launcher without checker", "job", Accepted},
		{"checker of kind", "train", Deferred},
		{"unknown kind", "unknown", Rejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := registry.Check(context.Background(), newOperationRun(tt.kind, "gpu"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Decision != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Decision)
			}
		})
	}
}

func TestRegistry_Fallback(t *testing.T) {
	registry := NewRegistry()
	registry.SetFallback(AcceptAll)

	res, _ := registry.Launch(context.Background(), newOperationRun("anything", ""))
	if res.Decision != Accepted {
		t.Errorf("expected fallback to accept, got %s", res.Decision)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRegistry_Kinds(t *testing.T) {
	registry := NewRegistry()
	registry.Register("job", AcceptAll)
	registry.Register("build", AcceptAll)

	kinds := registry.Kinds()
	if len(kinds) != 2 || kinds[0] != "build" || kinds[1] != "job" {
		t.Errorf("unexpected kinds: %v", kinds)
	}
}

// --- QueueLauncher Tests ---

type fakePublisher struct {
	published []mq.OperationReadyPayload
	err       error
}

func (p *fakePublisher) PublishOperationReady(_ context.Context, payload mq.OperationReadyPayload) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, payload)
	return nil
}

func TestQueueLauncher_Accepts(t *testing.T) {
	pub := &fakePublisher{}
	l := NewQueueLauncher(pub, nil)
	run := newOperationRun("job", "")

	res, err := l.Launch(context.Background(), run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != Accepted {
		t.Errorf("expected Accepted, got %s", res.Decision)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pub.published))
	}

	msg := pub.published[0]
	if msg.OperationRunID != run.ID || msg.PipelineRunID != run.PipelineRunID {
		t.Errorf("unexpected ids in payload: %+v", msg)
	}
	if msg.ConcurrencyClass != domain.DefaultConcurrencyClass {
		t.Errorf("expected default class, got %s", msg.ConcurrencyClass)
	}
}

func TestQueueLauncher_DefersOnPublishError(t *testing.T) {
	l := NewQueueLauncher(&fakePublisher{err: errors.New("broker down")}, nil)

	res, err := l.Launch(context.Background(), newOperationRun("job", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != Deferred {
		t.Errorf("expected Deferred, got %s", res.Decision)
	}
}

// --- ClassLimiter Tests ---

type fakeCounter struct {
	active map[string]int
	err    error
}

func (c *fakeCounter) CountActiveByClass(_ context.Context, class string) (int, error) {
	return c.active[class], c.err
}

func TestClassLimiter_Check(t *testing.T) {
	counter := &fakeCounter{active: map[string]int{"gpu": 2, "cpu": 1}}
	l := NewClassLimiter(counter, map[string]int{"gpu": 2, "cpu": 4}, AcceptAll)

	tests := []struct {
		name  string
		class string
		want  Decision
	}{
		{name: "class at limit", class: "gpu", want: Deferred},
		{name: "class below limit", class: "cpu", want: Accepted},
		{name: "class without limit", class: "", want: Accepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := l.Check(context.Background(), newOperationRun("job", tt.class))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Decision != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Decision)
			}
		})
	}
}

func TestClassLimiter_CounterError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	l := NewClassLimiter(counter, map[string]int{"gpu": 1}, AcceptAll)

	if _, err := l.Check(context.Background(), newOperationRun("job", "gpu")); err == nil {
		t.Error("expected error from counter")
	}
}

func TestClassLimiter_LaunchSkipsCount(t *testing.T) {
	// Захваченный run уже SCHEDULED и учтён счётчиком
	counter := &fakeCounter{active: map[string]int{"gpu": 1}}
	l := NewClassLimiter(counter, map[string]int{"gpu": 1}, AcceptAll)

	res, err := l.Launch(context.Background(), newOperationRun("job", "gpu"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != Accepted {
		t.Errorf("expected claimed run to be dispatched, got %s", res.Decision)
	}
}

func TestClassLimiter_CheckForwardsToNext(t *testing.T) {
	inner := NewRegistry()
	l := NewClassLimiter(&fakeCounter{}, map[string]int{"gpu": 1}, inner)

	res, err := l.Check(context.Background(), newOperationRun("unknown", "gpu"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decision != Rejected {
		t.Errorf("expected rejection from next, got %s", res.Decision)
	}
}

func TestParseClassLimits(t *testing.T) {
	limits, err := ParseClassLimits(" gpu=2, cpu = 8 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits["gpu"] != 2 || limits["cpu"] != 8 {
		t.Errorf("unexpected limits: %v", limits)
	}
	if got := FormatClassLimits(limits); got != "cpu=8,gpu=2" {
		t.Errorf("unexpected format: %s", got)
	}

	empty, err := ParseClassLimits("")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty limits, got %v, %v", empty, err)
	}

	for _, bad := range []string{"gpu", "=2", "gpu=x", "gpu=-1"} {
		if _, err := ParseClassLimits(bad); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("%q: expected ErrInvalidLimit, got %v", bad, err)
		}
	}
}
