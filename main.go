package main

import "github.com/nextlevelbuilder/aibot/cmd"

func main() {
	cmd.Execute()
}
