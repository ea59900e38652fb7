// Command wallet manages owners' saved addresses and payment instruments.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/wallet/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wallet: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
