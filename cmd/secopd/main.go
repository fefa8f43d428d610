// Command secopd serves one or more SECoP nodes over TCP, built either from
// a declarative node-definition file or (for embedders) the Go builder API
// linked into a custom main package.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
