// Command alicerag is the document retrieval engine CLI and MCP
// server.
package main

import (
	"os"

	"github.com/pmbstyle/alicerag/cmd/alicerag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
