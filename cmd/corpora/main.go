// corpora builds, searches, and shares embedding corpora.
package main

import (
	"fmt"
	"os"

	"github.com/corpora-dev/corpora/cmd/corpora/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
