package main

import (
	"flag"
	"fmt"
	"os"

	config "masterselector/configs"
	"masterselector/pkg/auth"
)

// token prints a signed API token for the secret in JWT_SECRET.
func main() {
	subject := flag.String("subject", "", "caller identity recorded in the token")
	role := flag.String("role", string(auth.RoleOperator), "admin, operator or viewer")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.TokenExpiry = cfg.JWTTokenExpiry

	svc, err := auth.NewJWTService(jwtCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot sign tokens: %v\n", err)
		os.Exit(1)
	}
	token, err := svc.GenerateToken(*subject, auth.Role(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
