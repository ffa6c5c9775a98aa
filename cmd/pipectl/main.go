package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd(openLive).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
