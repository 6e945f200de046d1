// Command fabctl inspects fabric providers and exercises address handling
// from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fabctl:", err)
		os.Exit(1)
	}
}
