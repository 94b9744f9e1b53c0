package engine

import (
	"slices"

	"github.com/shaiso/Pipelines/internal/domain"
)

// DAG — направленный ациклический граф операций pipeline.
//
// Хранит для каждой операции список upstream-операций (зависимостей).
// Порядок добавления узлов сохраняется: он определяет детерминированный
// tie-break при топологической сортировке.
type DAG struct {
	// order — узлы в порядке добавления.
	order []string

	// upstream — operationName → имена зависимостей.
	upstream map[string][]string
}

// NewDAG создаёт пустой DAG.
func NewDAG() *DAG {
	return &DAG{
		order:    make([]string, 0),
		upstream: make(map[string][]string),
	}
}

// BuildDAG строит DAG из операций pipeline.
func BuildDAG(ops []domain.Operation) *DAG {
	dag := NewDAG()
	for i := range ops {
		dag.Add(ops[i].Name, ops[i].Upstream...)
	}
	return dag
}

// BuildRunDAG строит DAG из operation runs и возвращает индекс name → run.
func BuildRunDAG(runs []domain.OperationRun) (*DAG, map[string]*domain.OperationRun) {
	dag := NewDAG()
	index := make(map[string]*domain.OperationRun, len(runs))
	for i := range runs {
		run := &runs[i]
		dag.Add(run.Name(), run.Operation.Upstream...)
		index[run.Name()] = run
	}
	return dag, index
}

// Add добавляет узел с зависимостями.
// Повторное добавление дополняет список зависимостей без дубликатов.
func (d *DAG) Add(id string, upstream ...string) {
	deps, exists := d.upstream[id]
	if !exists {
		d.order = append(d.order, id)
		deps = make([]string, 0, len(upstream))
	}
	for _, up := range upstream {
		if !slices.Contains(deps, up) {
			deps = append(deps, up)
		}
	}
	d.upstream[id] = deps
}

// Has проверяет, есть ли узел в графе.
func (d *DAG) Has(id string) bool {
	_, ok := d.upstream[id]
	return ok
}

// Len возвращает количество узлов.
func (d *DAG) Len() int {
	return len(d.order)
}

// Nodes возвращает узлы в порядке добавления.
func (d *DAG) Nodes() []string {
	nodes := make([]string, len(d.order))
	copy(nodes, d.order)
	return nodes
}

// Upstream возвращает зависимости узла.
func (d *DAG) Upstream(id string) []string {
	return d.upstream[id]
}

// Downstream возвращает узлы, напрямую зависящие от id, в порядке добавления.
func (d *DAG) Downstream(id string) []string {
	dependents := make([]string, 0)
	for _, node := range d.order {
		if slices.Contains(d.upstream[node], id) {
			dependents = append(dependents, node)
		}
	}
	return dependents
}

// External возвращает зависимости, которые не являются узлами графа.
// При сортировке такие зависимости считаются уже удовлетворёнными.
func (d *DAG) External() []string {
	external := make([]string, 0)
	for _, node := range d.order {
		for _, up := range d.upstream[node] {
			if !d.Has(up) && !slices.Contains(external, up) {
				external = append(external, up)
			}
		}
	}
	return external
}

// SortTopologically упорядочивает узлы так, что каждая зависимость стоит
// раньше зависимого узла (алгоритм Кана).
//
// Для одинакового входа порядок всегда один и тот же: готовые узлы
// извлекаются в порядке добавления. Возвращает *CyclicGraphError
// (errors.Is(err, ErrCyclicGraph)), если граф содержит цикл.
func SortTopologically(d *DAG) ([]string, error) {
	inDegree := make(map[string]int, len(d.order))
	dependents := make(map[string][]string, len(d.order))

	for _, node := range d.order {
		for _, up := range d.upstream[node] {
			if !d.Has(up) {
				// Внешняя зависимость — считаем удовлетворённой
				continue
			}
			inDegree[node]++
			dependents[up] = append(dependents[up], node)
		}
	}

	// Очередь узлов с inDegree = 0 в порядке добавления
	queue := make([]string, 0, len(d.order))
	for _, node := range d.order {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	order := make([]string, 0, len(d.order))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(d.order) {
		remaining := make([]string, 0, len(d.order)-len(order))
		for _, node := range d.order {
			if inDegree[node] > 0 {
				remaining = append(remaining, node)
			}
		}
		return nil, &CyclicGraphError{Nodes: remaining}
	}

	return order, nil
}
