package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	if jsonMode, _ := root.PersistentFlags().GetBool("json"); jsonMode {
		_ = writeJSONError(os.Stdout, err)
	} else {
		fmt.Fprintf(os.Stderr, "autoqc: %v\n", err)
	}
	os.Exit(1)
}
