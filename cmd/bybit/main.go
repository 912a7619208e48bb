package main

import (
	"os"

	"candlefeed/internal/interfaces/cli"
)

func main() {
	os.Exit(cli.Main("bybit", os.Args[1:]))
}
