package main

import (
	"os"

	"github.com/abridge-db/abridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
