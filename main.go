package main

import (
	"github.com/nexloop/wabridge/cmd"
)

func main() {
	cmd.Execute()
}
