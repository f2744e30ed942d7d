// The main package for the menu-harvester executable.
package main

import (
	"github.com/JakeFAU/menu-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
