package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"DealScanner/internal/app"
	"DealScanner/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, relying on the environment")
	}

	cfg := config.Load()
	if err := app.Run(context.Background(), cfg); err != nil {
		log.Fatalf("dealscanner: %v", err)
	}
}
