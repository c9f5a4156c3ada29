package main

import (
	"os"

	"github.com/sshcollectorpro/fsmaudit/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
