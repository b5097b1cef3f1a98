package main

import (
	"os"

	"github.com/solatis/derivekeeper/cmd/derivekeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
