package main

import (
	"whatsapp-console/internal/cli"
)

func main() {
	cli.Execute()
}
