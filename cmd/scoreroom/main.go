package main

import "github.com/mcoot/scoreroom/internal/cli"

func main() {
	cli.Execute()
}
