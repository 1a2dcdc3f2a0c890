// Command devtoken mints a console token for local development, signed with
// JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-pos/internal/auth"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	subject := flag.String("sub", "cashier-dev", "user id placed in the sub claim")
	roles := flag.String("roles", auth.RoleCashier, "comma separated roles")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	var list []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}

	token, err := auth.SignDevToken(secret, *subject, list, os.Getenv("JWT_ISSUER"), os.Getenv("JWT_AUDIENCE"), *ttl, time.Now())
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
