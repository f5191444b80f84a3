package main

import "github.com/schemamend/schemamend/cmd"

func main() {
	cmd.Execute()
}
