package main

import "github.com/synget/synget/cmd"

func main() {
	cmd.Execute()
}
