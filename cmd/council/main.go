package main

import (
	"github.com/dyike/tradecouncil/internal/cli"
)

func main() {
	cli.Run()
}
