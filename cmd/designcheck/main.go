// Command designcheck fingerprints design uploads, finds duplicates, checks
// raw design files against their previews and serves the same over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
