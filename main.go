package main

import "github.com/Ambier/parameter-server/cmd"

func main() {
	cmd.Execute()
}
