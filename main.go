package main

import (
	"os"

	"github.com/openride/surgecast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
