// Command vkcluster-probe is an ad-hoc command and diagnostics tool for a
// cluster reachable through vkcluster.
package main

import (
	"os"

	"vkcluster/internal/clicmd"
)

func main() {
	os.Exit(clicmd.Execute(os.Args[1:]))
}
