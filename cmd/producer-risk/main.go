package main

import "producer-risk/internal/cli"

func main() {
	cli.Execute()
}
