package main

import "github.com/jmehdipour/paysms/cmd"

func main() {
	cmd.Execute()
}
