package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/shaiso/Pipelines/internal/domain"
)

func TestSortTopologically_Chain(t *testing.T) {
	dag := NewDAG()
	dag.Add("C", "B")
	dag.Add("B", "A")
	dag.Add("A")

	order, err := SortTopologically(dag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"A", "B", "C"}
	if !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestSortTopologically_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	dag := BuildDAG([]domain.Operation{
		{Name: "A"},
		{Name: "B", Upstream: []string{"A"}},
		{Name: "C", Upstream: []string{"A"}},
		{Name: "D", Upstream: []string{"B", "C"}},
	})

	order, err := SortTopologically(dag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"A", "B", "C", "D"}
	if !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestSortTopologically_TieBreakByInsertionOrder(t *testing.T) {
	dag := NewDAG()
	dag.Add("x")
	dag.Add("b")
	dag.Add("a")
	dag.Add("y", "x")

	for i := 0; i < 10; i++ {
		order, err := SortTopologically(dag)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"x", "b", "a", "y"}
		if !slices.Equal(order, want) {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestSortTopologically_ExternalUpstreamIsSatisfied(t *testing.T) {
	dag := NewDAG()
	dag.Add("A", "outside")
	dag.Add("B", "A")

	order, err := SortTopologically(dag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A", "B"}) {
		t.Errorf("unexpected order %v", order)
	}
	if ext := dag.External(); !slices.Equal(ext, []string{"outside"}) {
		t.Errorf("expected external [outside], got %v", ext)
	}
}

func TestSortTopologically_Empty(t *testing.T) {
	order, err := SortTopologically(NewDAG())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected empty order, got %v", order)
	}
}

func TestSortTopologically_Cycle(t *testing.T) {
	tests := []struct {
		name string
		dag  func() *DAG
	}{
		{
			name: "self loop",
			dag: func() *DAG {
				d := NewDAG()
				d.Add("A", "A")
				return d
			},
		},
		{
			name: "two nodes",
			dag: func() *DAG {
				d := NewDAG()
				d.Add("A", "B")
				d.Add("B", "A")
				return d
			},
		},
		{
			name: "cycle behind a root",
			dag: func() *DAG {
				d := NewDAG()
				d.Add("root")
				d.Add("A", "root", "C")
				d.Add("B", "A")
				d.Add("C", "B")
				return d
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SortTopologically(tt.dag())
			if !errors.Is(err, ErrCyclicGraph) {
				t.Fatalf("expected ErrCyclicGraph, got %v", err)
			}
			var cycErr *CyclicGraphError
			if !errors.As(err, &cycErr) {
				t.Fatalf("expected *CyclicGraphError, got %T", err)
			}
			if len(cycErr.Nodes) == 0 {
				t.Error("cyclic nodes should be reported")
			}
			if slices.Contains(cycErr.Nodes, "root") {
				t.Error("root is not part of the cycle")
			}
		})
	}
}

// randomDAG строит случайный ациклический граф: рёбра идут только от
// меньшего индекса к большему, узлы добавляются в перемешанном порядке.
func randomDAG(rng *rand.Rand, n int) (*DAG, [][2]string) {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("op%d", i)
	}

	upstream := make(map[string][]string)
	var edges [][2]string
	for j := 1; j < n; j++ {
		for i := 0; i < j; i++ {
			if rng.Intn(4) == 0 {
				upstream[names[j]] = append(upstream[names[j]], names[i])
				edges = append(edges, [2]string{names[i], names[j]})
			}
		}
	}

	dag := NewDAG()
	for _, idx := range rng.Perm(n) {
		dag.Add(names[idx], upstream[names[idx]]...)
	}
	return dag, edges
}

func TestSortTopologically_RandomAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(25)
		dag, edges := randomDAG(rng, n)

		order, err := SortTopologically(dag)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", iter, err)
		}
		if len(order) != n {
			t.Fatalf("iteration %d: expected %d nodes, got %d", iter, n, len(order))
		}

		pos := make(map[string]int, n)
		for i, node := range order {
			pos[node] = i
		}
		for _, e := range edges {
			if pos[e[0]] >= pos[e[1]] {
				t.Fatalf("iteration %d: %s must come before %s in %v", iter, e[0], e[1], order)
			}
		}

		again, _ := SortTopologically(dag)
		if !slices.Equal(order, again) {
			t.Fatalf("iteration %d: order is not deterministic", iter)
		}
	}
}

func TestSortTopologically_RandomCyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 100; iter++ {
		n := 2 + rng.Intn(20)
		dag, _ := randomDAG(rng, n)

		// Замыкаем путь op(a) → ... → op(b) обратным ребром b → a
		a := rng.Intn(n - 1)
		b := a + 1 + rng.Intn(n-a-1)
		from, to := fmt.Sprintf("op%d", a), fmt.Sprintf("op%d", b)
		dag.Add(to, from)
		dag.Add(from, to)

		if _, err := SortTopologically(dag); !errors.Is(err, ErrCyclicGraph) {
			t.Fatalf("iteration %d: expected ErrCyclicGraph, got %v", iter, err)
		}
	}
}

func TestDAG_AddMergesUpstream(t *testing.T) {
	dag := NewDAG()
	dag.Add("B", "A")
	dag.Add("B", "A", "C")

	if dag.Len() != 1 {
		t.Errorf("expected 1 node, got %d", dag.Len())
	}
	if got := dag.Upstream("B"); !slices.Equal(got, []string{"A", "C"}) {
		t.Errorf("expected upstream [A C], got %v", got)
	}
}

func TestDAG_Downstream(t *testing.T) {
	dag := BuildDAG([]domain.Operation{
		{Name: "A"},
		{Name: "B", Upstream: []string{"A"}},
		{Name: "C", Upstream: []string{"A"}},
		{Name: "D", Upstream: []string{"B"}},
	})

	if got := dag.Downstream("A"); !slices.Equal(got, []string{"B", "C"}) {
		t.Errorf("expected downstream [B C], got %v", got)
	}
	if got := dag.Downstream("D"); len(got) != 0 {
		t.Errorf("expected no downstream for D, got %v", got)
	}
}

func TestBuildRunDAG(t *testing.T) {
	runs := []domain.OperationRun{
		{Operation: domain.Operation{Name: "A"}},
		{Operation: domain.Operation{Name: "B", Upstream: []string{"A"}}},
	}

	dag, index := BuildRunDAG(runs)

	if dag.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", dag.Len())
	}
	if index["B"] != &runs[1] {
		t.Error("index should point into the runs slice")
	}
}
