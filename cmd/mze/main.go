// Command mze is the mze storage client.
package main

import (
	"os"

	"github.com/medvied/mze/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
