package main

import "github.com/brayniac/perfprox/cmd"

func main() {
	cmd.Execute()
}
