// DataNexus CLI — инструмент командной строки для управления
// pipelines и runs через HTTP API.
//
// Использование:
//
//	datanexus [--api-url URL] [--principal ID] [--org ORG] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	pipeline  Управление pipelines
//	run       Управление runs
package main

import (
	"fmt"
	"os"

	"github.com/shaiso/datanexus/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
