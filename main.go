// The main package for the diecast-crawler executable.
package main

import (
	"github.com/JakeFAU/diecast-crawler/cmd"
)

func main() {
	cmd.Execute()
}
