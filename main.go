package main

import (
	cmd "github.com/ember-llm/tune-server/cmd/ember"
)

func main() {
	cmd.Execute()
}
