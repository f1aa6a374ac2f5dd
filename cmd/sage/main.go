// Package main is the entry point for the sage service.
//
// sage answers questions from a fixed knowledge base and recommends topics
// a user has not explored yet.
package main

import (
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/sage/cmd/sage/app"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	app.NewApp().Run()
}
