package main

import (
	"marketbrief/cmd/handlers"
)

func main() {
	handlers.Execute()
}
