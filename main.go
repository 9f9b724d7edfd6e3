package main

import "github.com/Davincible/claude-code-open/cmd"

func main() {
	cmd.Execute()
}
