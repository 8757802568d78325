// Command issue-token mints an identity token for a party so the API can be
// exercised locally without an external identity provider.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charlesng35/hycredit/internal/app"
	iauth "github.com/charlesng35/hycredit/internal/auth"
	"github.com/charlesng35/hycredit/internal/models"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	partyID    string
	role       string
	name       string
	org        string
	email      string
	wallet     string
	ttl        time.Duration
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Configuration directory")
	fs.StringVar(&opts.partyID, "party", "", "Party identifier (required)")
	fs.StringVar(&opts.role, "role", string(models.RoleProducer), "PRODUCER, CERTIFIER or OPERATOR")
	fs.StringVar(&opts.name, "name", "", "Display name")
	fs.StringVar(&opts.org, "org", "", "Organization")
	fs.StringVar(&opts.email, "email", "", "Contact email")
	fs.StringVar(&opts.wallet, "wallet", "", "Ledger wallet address")
	fs.DurationVar(&opts.ttl, "ttl", 0, "Token lifetime (defaults to auth.jwt.access_token_ttl)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg *app.Config
		err error
	)
	if strings.TrimSpace(opts.configPath) == "" {
		cfg, err = app.LoadConfig()
	} else {
		cfg, err = app.LoadConfig(opts.configPath)
	}
	if err != nil {
		return err
	}

	token, err := mint(cfg.Auth, opts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func mint(auth app.AuthConfig, opts options) (string, error) {
	if strings.TrimSpace(auth.JWT.Secret) == "" {
		return "", errors.New("auth.jwt.secret must be configured; a generated secret would not match the server's")
	}
	role := models.PartyRole(strings.ToUpper(strings.TrimSpace(opts.role)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", opts.role)
	}

	jwtCfg, err := auth.JWTServiceConfig()
	if err != nil {
		return "", err
	}
	svc, err := iauth.NewJWTService(jwtCfg)
	if err != nil {
		return "", err
	}

	return svc.GenerateAccessToken(iauth.AccessTokenInput{
		PartyID:       strings.TrimSpace(opts.partyID),
		Role:          role,
		Name:          opts.name,
		Organization:  opts.org,
		Email:         opts.email,
		WalletAddress: strings.ToLower(strings.TrimSpace(opts.wallet)),
		TTL:           opts.ttl,
	})
}
