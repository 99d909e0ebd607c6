package main

import (
	"github.com/JakeFAU/site-rag/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
