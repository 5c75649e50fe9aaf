package main

import (
    "log"

    "github.com/spf13/cobra"

    paxoscli "github.com/mrwill84/go-paxos/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "paxosctl",
        Short:         "go-paxos replica node CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all node commands from pkg/cli for reuse in services
    paxoscli.AddAll(root)
    return root
}
