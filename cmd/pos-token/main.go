// Команда pos-token выпускает bearer-токен для кассового API.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/httpapi"
)

const secretEnv = "POS_JWT_SECRET"

func run(args []string, lookup func(string) string, out io.Writer) error {
	var (
		secret string
		userID string
		role   string
		ttl    time.Duration
	)
	fs := flag.NewFlagSet("pos-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&secret, "secret", "", "HS256 secret (fallback: "+secretEnv+")")
	fs.StringVar(&userID, "user", "", "user id placed into sub claim")
	fs.StringVar(&role, "role", httpapi.RoleCashier, "role: administrator|shop_manager|outlet_manager|cashier")
	fs.DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(secret) == "" {
		secret = lookup(secretEnv)
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("-user is required")
	}
	if !httpapi.KnownRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return fmt.Errorf("-ttl must be > 0")
	}

	auth, err := httpapi.NewAuthenticator(secret)
	if err != nil {
		return err
	}
	token, err := auth.Issue(userID, role, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "pos-token: %v\n", err)
		os.Exit(1)
	}
}
