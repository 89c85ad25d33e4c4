package main

import (
	"os"

	"github.com/nuetzliches/docrelay/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
