// The main package for the insight executable.
package main

import (
	"github.com/JakeFAU/modian-insight/cmd"
)

func main() {
	cmd.Execute()
}
