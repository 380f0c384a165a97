// Command ploke indexes a codebase into a local hybrid (dense + sparse)
// search store and answers natural-language queries over it.
package main

import (
	"fmt"
	"os"

	"github.com/plokeai/ploke/cmd/ploke/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ploke:", err)
		os.Exit(1)
	}
}
