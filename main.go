package main

import "github.com/modelgate/modelgate/cmd"

func main() {
	cmd.Execute()
}
