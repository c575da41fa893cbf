package main

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/gomlx/graphexec/internal/cli"
)

func main() {
	// Registers klog's flags (notably -v) so the CLI's --verbose can raise
	// the log level; cobra owns the actual argument parsing.
	klog.InitFlags(nil)
	defer klog.Flush()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "graphrun: %+v\n", err)
		os.Exit(1)
	}
}
