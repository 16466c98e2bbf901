package main

import "github.com/maxgio92/sigmigrate/cmd/sigmigrate/cmd"

func main() {
	cmd.Execute()
}
