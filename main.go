package main

import "github.com/creative812/Creatives-bot/cmd"

func main() {
	cmd.Execute()
}
