package main

import (
	"os"

	"github.com/hypi-universe/rapid-fs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
