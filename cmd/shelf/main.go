package main

import (
	"log"

	"github.com/MrSnakeDoc/shelf/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ shelf failed to initialize: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ shelf failed: %v", err)
	}
}
