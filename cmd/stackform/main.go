package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/stackform-io/stackform/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// Pending changes are signalled by exit code alone so scripts
		// can branch on 'plan' without parsing output.
		if errors.Is(err, cli.ErrChangesPending) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
