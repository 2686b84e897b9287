// Command hashpw prints the argon2id hash of a password for use as
// auth.operator_password_hash in the config.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Saturday-Vinyl/machine-link/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}

	hash, err := auth.NewPasswordHasher().HashPassword(os.Args[1])
	if err != nil {
		log.Fatalf("hash failed: %v", err)
	}

	fmt.Println(hash)
}
