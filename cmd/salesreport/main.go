package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/vinodismyname/mcpsales/internal/cli"
	"github.com/vinodismyname/mcpsales/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.NewApp(version.Version())
	if err := app.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
