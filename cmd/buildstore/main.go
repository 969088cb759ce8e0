package main

import "github.com/aweris/buildstore/cmd/buildstore/cmd"

func main() {
	cmd.Execute()
}
