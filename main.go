package main

import (
	"fmt"
	"os"

	"github.com/jareynolds/UbeCode-sub002/internal/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "canvasd:", err)
		os.Exit(1)
	}
}
