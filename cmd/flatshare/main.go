package main

import "github.com/vietddude/flatshare/internal/cli"

func main() {
	cli.Execute()
}
