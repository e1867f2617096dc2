package main

import (
    "log"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-clustermon/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "clustermon",
        Short:         "cluster health monitor: hub selection, membership, probes and node status",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    cli.AddAll(root)
    return root
}
