package main

import "github.com/heimdex/heimdex-clipper/internal/cli"

func main() {
	cli.Main()
}
