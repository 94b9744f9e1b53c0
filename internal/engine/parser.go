package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Pipelines/internal/domain"
)

// Format — формат файла определения pipeline.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Definition — определение pipeline в том виде, в каком его пишет пользователь.
//
//	name: train
//	concurrency: 2
//	operations:
//	  - name: prepare
//	    kind: job
//	  - name: train
//	    kind: job
//	    upstream: [prepare]
//	    concurrency_class: gpu
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Concurrency int            `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Operations  []OperationDef `yaml:"operations" json:"operations"`
}

// OperationDef — определение одной операции.
type OperationDef struct {
	Name             string         `yaml:"name" json:"name"`
	Kind             string         `yaml:"kind" json:"kind"`
	Upstream         []string       `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	ConcurrencyClass string         `yaml:"concurrency_class,omitempty" json:"concurrency_class,omitempty"`
	Config           map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// FormatFromPath определяет формат по расширению файла.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Parse разбирает определение pipeline и валидирует его.
func Parse(data []byte, format Format) (*Definition, error) {
	var def Definition

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate выполняет полную валидацию определения.
//
// Проверяет:
// - Наличие операций
// - Имена и их уникальность, наличие kind
// - Отсутствие self-dependency и ссылок на неизвестные операции
// - Отсутствие циклов
func Validate(def *Definition) error {
	if def == nil || len(def.Operations) == 0 {
		return ErrEmptyOperations
	}

	if def.Concurrency < 0 {
		return NewValidationError("", "concurrency",
			fmt.Sprintf("concurrency is %d", def.Concurrency), ErrNegativeConcurrency)
	}

	names := make(map[string]bool, len(def.Operations))
	for i := range def.Operations {
		op := &def.Operations[i]

		if op.Name == "" {
			return NewValidationError("", "name",
				fmt.Sprintf("operation %d has empty name", i), ErrEmptyOperationName)
		}
		if names[op.Name] {
			return NewValidationError(op.Name, "name",
				fmt.Sprintf("duplicate operation name: %s", op.Name), ErrDuplicateOperation)
		}
		names[op.Name] = true

		if op.Kind == "" {
			return NewValidationError(op.Name, "kind", "operation has empty kind", ErrEmptyKind)
		}

		for _, up := range op.Upstream {
			if up == op.Name {
				return NewValidationError(op.Name, "upstream",
					"operation depends on itself", ErrSelfDependency)
			}
		}
	}

	for i := range def.Operations {
		op := &def.Operations[i]
		for _, up := range op.Upstream {
			if !names[up] {
				return NewValidationError(op.Name, "upstream",
					fmt.Sprintf("depends on unknown operation: %s", up), ErrMissingDependency)
			}
		}
	}

	if _, err := SortTopologically(def.DAG()); err != nil {
		return err
	}

	return nil
}

// DAG строит граф операций определения.
func (def *Definition) DAG() *DAG {
	dag := NewDAG()
	for i := range def.Operations {
		dag.Add(def.Operations[i].Name, def.Operations[i].Upstream...)
	}
	return dag
}

// Pipeline превращает определение в доменный шаблон с новыми идентификаторами.
func (def *Definition) Pipeline(now time.Time) *domain.Pipeline {
	p := &domain.Pipeline{
		ID:          uuid.New(),
		Name:        def.Name,
		Concurrency: def.Concurrency,
		Operations:  make([]domain.Operation, 0, len(def.Operations)),
		CreatedAt:   now,
	}

	for _, op := range def.Operations {
		p.Operations = append(p.Operations, domain.Operation{
			ID:               uuid.New(),
			Name:             op.Name,
			Kind:             op.Kind,
			Upstream:         append([]string(nil), op.Upstream...),
			ConcurrencyClass: op.ConcurrencyClass,
			Config:           op.Config,
		})
	}

	return p
}
