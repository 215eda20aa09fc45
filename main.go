// Command optrack tracks long-running operations through their lifecycle.
package main

import (
	"os"

	"optrack.evalgo.org/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
