package main

import (
	"os"

	"github.com/schacon/git-glance/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
