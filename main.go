package main

import "github.com/stephnangue/wopihost/cmd"

func main() {
	cmd.Execute()
}
