package main

import "github.com/harvestly/warden/internal/cli"

func main() {
	cli.Execute()
}
