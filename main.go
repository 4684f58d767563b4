package main

import (
	"os"

	"github.com/isometry/ldapops/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
