package main

import (
	"os"

	"candlefeed/internal/interfaces/cli"
)

func main() {
	os.Exit(cli.Main("binance", os.Args[1:]))
}
