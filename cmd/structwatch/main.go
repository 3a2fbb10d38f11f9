package main

import (
	"context"
	"fmt"
	"os"

	"structwatch/internal/report"
)

func main() {
	c := newCLI(os.Stdout)
	if err := c.rootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "structwatch: %v\n", err)
		os.Exit(report.SignalFatal.ExitCode())
	}
	os.Exit(c.exitCode)
}
