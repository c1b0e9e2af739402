package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional; real deployments configure via file or environment
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "corpusqad",
		Short: "Question answering service over a fixed document corpus",
	}
	root.AddCommand(serveCMD(), ingestCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
