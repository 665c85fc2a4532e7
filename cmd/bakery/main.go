package main

import "kicad-bakery/internal/cli"

func main() {
	cli.Execute()
}
