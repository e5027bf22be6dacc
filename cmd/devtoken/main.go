package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"donorchat/internal/auth"
)

func main() {
	email := flag.String("email", "", "email claim")
	role := flag.String("role", "DONOR", "role claim")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("Usage: devtoken [-email e] [-role r] [-ttl d] <userId>")
		os.Exit(1)
	}

	svc, err := auth.NewAuthService(context.Background(), auth.Config{
		Secret:      os.Getenv("JWT_SECRET"),
		TokenExpiry: *ttl,
	})
	if err != nil {
		fmt.Printf("Error: %v (set JWT_SECRET)\n", err)
		os.Exit(1)
	}

	token, err := svc.Issue(flag.Arg(0), *email, *role)
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
