// Command flowctl compiles flow descriptors and runs the resulting records.
package main

import (
	"os"

	"github.com/drblury/flowplan/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
