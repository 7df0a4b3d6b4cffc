// rafflectl - operator CLI for the raffle server and contract
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mbd888/raffle/internal/cli"
)

// Version is set at build time.
var Version = "dev"

func main() {
	// Flag defaults read the environment, so .env must be loaded first.
	_ = godotenv.Load()

	if err := cli.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
