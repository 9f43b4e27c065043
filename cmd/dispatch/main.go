package main

import "github.com/velora-io/dispatch/internal/cli"

func main() {
	cli.Execute()
}
