package main

import (
	"github.com/maxgio92/pyrospy/pkg/cmd"
)

func main() {
	cmd.Execute()
}
