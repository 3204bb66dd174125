package main

import (
	"os"

	"miren.dev/studio/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
