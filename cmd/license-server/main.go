// license-server is the licensing backend: it validates, activates, and
// tracks licenses for deployed installations.
package main

import (
	"fmt"
	"os"

	"licensegate/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
