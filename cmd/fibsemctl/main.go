package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/openfibsem/gofibsem/internal/cli"
)

const version = "0.2.0"

func main() {
	root := cli.NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
