package main

import "time26-oracle/internal/cli"

func main() {
	cli.Execute()
}
