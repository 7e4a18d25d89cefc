package main

import (
	"context"
	"fmt"
	"os"

	"hsgrowth/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
