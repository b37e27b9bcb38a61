package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// Generates the two secrets a deployment needs: a 32-character
// ENCRYPTION_KEY for the AES-GCM secret box and a 64-character
// JWT_SECRET for admin session signing.
func main() {
	encKey := make([]byte, 16)
	jwtSecret := make([]byte, 32)
	if _, err := rand.Read(encKey); err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		os.Exit(1)
	}
	if _, err := rand.Read(jwtSecret); err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("ENCRYPTION_KEY=%s\n", hex.EncodeToString(encKey))
	fmt.Printf("JWT_SECRET=%s\n", hex.EncodeToString(jwtSecret))
	fmt.Println("--------------------------------")
}
