// Command ukbsql normalizes UK Biobank phenotype exports into a relational
// database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ukbsql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
