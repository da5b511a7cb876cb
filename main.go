// depgraph builds call graphs of Python and Go repositories.
//
// It resolves every call site to the functions, methods and classes it
// may reach, stores the graph in BadgerDB and answers caller, callee,
// impact and uncalled-symbol queries from the CLI or over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/depgraph/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
