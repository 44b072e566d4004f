// Command sessiontoken mints an owner session token for the mobile client
// endpoints (/bridge/token, /contacts/sync). The secret must match the
// server's session-secret.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/flowpbx/callgate/internal/api/middleware"
)

func main() {
	secret := flag.String("secret", os.Getenv("CALLGATE_SESSION_SECRET"), "hex-encoded 32-byte session secret (or set CALLGATE_SESSION_SECRET)")
	owner := flag.String("owner", "", "owner user id to bind into the token")
	ttl := flag.Duration("ttl", middleware.DefaultSessionTTL, "token lifetime")
	flag.Parse()

	if *owner == "" {
		fmt.Fprintln(os.Stderr, "error: --owner is required")
		os.Exit(2)
	}

	key, err := hex.DecodeString(*secret)
	if err != nil || len(key) != 32 {
		fmt.Fprintln(os.Stderr, "error: --secret must be 64 hex characters")
		os.Exit(2)
	}

	token, expiresAt, err := middleware.GenerateSessionToken(key, *owner, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
