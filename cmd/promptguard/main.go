package main

import "github.com/ppiankov/promptguard/internal/cli"

func main() {
	cli.Execute()
}
