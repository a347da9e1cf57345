// Command querysync runs the agency sync host and its maintenance tools.
//
// Usage:
//
//	querysync serve --config querysync.yaml
//	querysync cache inspect
//	querysync cache purge
//	querysync feed tail --table invoices
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "querysync:", err)
		os.Exit(1)
	}
}
