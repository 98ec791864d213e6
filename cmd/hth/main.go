package main

import "github.com/howtoharden/hth/cmd/hth/commands"

func main() {
	commands.Execute()
}
