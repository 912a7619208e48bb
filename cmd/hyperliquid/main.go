package main

import (
	"os"

	"candlefeed/internal/interfaces/cli"
)

func main() {
	os.Exit(cli.Main("hyperliquid", os.Args[1:]))
}
