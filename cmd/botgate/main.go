package main

import (
	"log"
	"os"

	"botgate/cmd/internal/app"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-admin-key" {
		if err := app.HashAdminKey(os.Stdin, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
