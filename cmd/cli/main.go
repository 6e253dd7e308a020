package main

import (
	"github.com/misobs/mectl/pkg/cli"
)

func main() {
	cli.Execute()
}
