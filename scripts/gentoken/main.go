// generates a signed bearer token for local testing against a running
// dashsync server.
//
// usage: go run ./scripts/gentoken <user_id> <username>
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tablewise/dashsync/internal/auth"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: .env file not found")
	}

	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./scripts/gentoken <user_id> <username>")
		os.Exit(1)
	}

	userID := os.Args[1]
	username := os.Args[2]

	token, err := auth.GenerateJWT(userID, username, "", 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}

	fmt.Printf("test token:\n%s\n\n", token)
	fmt.Printf("export TEST_TOKEN=%q\n", token)
}
