package main

import "github.com/mtoivanen/librarian/cmd"

var execute = cmd.Execute

func main() {
	execute()
}
