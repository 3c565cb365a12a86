// The main package for the fanart-viewer executable.
package main

import (
	"github.com/nokosaaan/fanart-viewer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
