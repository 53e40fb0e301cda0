package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/unitlink/unitlink-core/internal/auth"
	"github.com/unitlink/unitlink-core/internal/infrastructure/config"
)

// issueToken implements "unitlink token": it signs an operator JWT with the
// configured secret and prints it to out.
//
//	unitlink token -user ops-1 -role admin
func issueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	user := fs.String("user", "", "subject (operator ID) carried by the token")
	role := fs.String("role", string(auth.RoleOperator), "operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *user == "" {
		return errors.New("-user is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *ttl <= 0 {
		*ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*user, auth.Role(*role), cfg.Security.JWT.Secret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
