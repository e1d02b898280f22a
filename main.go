package main

import "github.com/nextlevelbuilder/tollgate/cmd"

func main() {
	cmd.Execute()
}
