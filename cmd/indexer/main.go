package main

import "github.com/vietddude/marketindexer/internal/cli"

func main() {
	cli.Execute()
}
