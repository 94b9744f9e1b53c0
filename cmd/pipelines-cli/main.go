// Pipelines CLI — инструмент командной строки для управления
// pipeline runs через run-store и очереди планировщика.
//
// Использование:
//
//	pipelines [--db-url DSN] [--rabbitmq-url URL] [--json] <command> [flags]
//
// Команды:
//
//	validate  Проверка файла определения
//	simulate  Прогон определения в памяти
//	create    Создание pipeline run
//	start     Запуск цикла допуска
//	stop      Остановка pipeline run
//	skip      Пропуск оставшихся операций
//	check     Пересчёт статуса
//	report    Отчёт о статусе operation run
//	show      Просмотр pipeline run
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Pipelines/internal/cli"
	"github.com/shaiso/Pipelines/internal/config"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "pipelines",
		Short:         "Pipelines CLI — pipeline run scheduler tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	config.AddFlags(rootCmd.PersistentFlags())

	backendFn := func(ctx context.Context) (*cli.Backend, error) {
		cfg, err := config.Load(rootCmd.PersistentFlags())
		if err != nil {
			return nil, err
		}
		return cli.Connect(ctx, cfg, telemetry.SetupLogger(os.Stderr))
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewValidateCmd(outputFn),
		cli.NewSimulateCmd(outputFn),
		cli.NewCreateCmd(backendFn, outputFn),
		cli.NewStartCmd(backendFn, outputFn),
		cli.NewStopCmd(backendFn, outputFn),
		cli.NewSkipCmd(backendFn, outputFn),
		cli.NewCheckCmd(backendFn, outputFn),
		cli.NewReportCmd(backendFn, outputFn),
		cli.NewShowCmd(backendFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
