package main

import "github.com/vietddude/powermon/internal/cli"

func main() {
	cli.Execute()
}
