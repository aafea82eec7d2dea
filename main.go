package main

import "github.com/upmirror/upmirror/cmd"

func main() {
	cmd.Execute()
}
