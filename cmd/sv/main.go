package main

import (
	"log"

	"selfvault/cmd/sv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
