package main

import "vinochat/internal/commands"

func main() {
	commands.Execute()
}
