// Package engine содержит модель DAG операций pipeline.
//
// Включает:
//   - dag.go    — построение DAG и топологическая сортировка
//   - parser.go — разбор и валидация определения pipeline (YAML/JSON)
//
// Engine отвечает за понимание структуры pipeline и порядок, в котором
// операции могут рассматриваться планировщиком.
package engine
