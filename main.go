package main

import "github.com/simulant-labs/simulant/internal/cli"

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
