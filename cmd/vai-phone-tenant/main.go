// Command vai-phone-tenant manages restaurant tenants and push subscriptions.
//
//	vai-phone-tenant upsert -phone +212522000000 -name "Dar Tajine" -menu-file menu.txt
//	vai-phone-tenant renormalize
//	vai-phone-tenant subscribe -endpoint URL -p256dh KEY -auth SECRET
//	vai-phone-tenant vapid-keys
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/vango-go/vai-phone/internal/dotenv"
	"github.com/vango-go/vai-phone/pkg/core/phone"
	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/notify"
	"github.com/vango-go/vai-phone/pkg/store/postgres"
)

const usage = `usage: vai-phone-tenant <command> [flags]

commands:
  upsert        create or update a tenant by phone number
  renormalize   rewrite stored phone numbers in canonical form
  subscribe     register a web push subscription
  vapid-keys    print a new VAPID key pair
`

type adminStore interface {
	UpsertTenant(ctx context.Context, t tenant.Tenant) (int64, error)
	RenormalizePhones(ctx context.Context, normalize func(string) string) (int, error)
	SaveSubscription(ctx context.Context, sub notify.Subscription) error
}

type cliDeps struct {
	openStore    func(ctx context.Context) (adminStore, func(), error)
	generateKeys func() (privateKey, publicKey string, err error)
	region       string
}

func defaultDeps() cliDeps {
	return cliDeps{
		openStore: func(ctx context.Context) (adminStore, func(), error) {
			dsn := strings.TrimSpace(os.Getenv("VAI_PHONE_DATABASE_URL"))
			if dsn == "" {
				return nil, nil, errors.New("VAI_PHONE_DATABASE_URL must be set")
			}
			s, err := postgres.Open(ctx, dsn, nil)
			if err != nil {
				return nil, nil, err
			}
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, nil, err
			}
			return s, s.Close, nil
		},
		generateKeys: webpush.GenerateVAPIDKeys,
		region:       strings.ToUpper(strings.TrimSpace(os.Getenv("VAI_PHONE_DEFAULT_REGION"))),
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "upsert":
		err = runUpsert(ctx, args[1:], stdout, stderr, deps)
	case "renormalize":
		err = runRenormalize(ctx, args[1:], stdout, stderr, deps)
	case "subscribe":
		err = runSubscribe(ctx, args[1:], stdout, stderr, deps)
	case "vapid-keys":
		err = runVAPIDKeys(stdout, deps)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "vai-phone-tenant: %v\n", err)
		return 1
	}
	return 0
}

func runUpsert(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) error {
	fs := flag.NewFlagSet("upsert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		rawPhone   = fs.String("phone", "", "restaurant phone number (any format); required")
		name       = fs.String("name", "", "restaurant name")
		voice      = fs.String("voice", "", "prebuilt voice name (empty uses the gateway default)")
		prompt     = fs.String("prompt", "", "persona prompt (empty uses the built-in persona)")
		promptFile = fs.String("prompt-file", "", "read the persona prompt from a file")
		menu       = fs.String("menu", "", "menu text")
		menuFile   = fs.String("menu-file", "", "read the menu from a file")
		disabled   = fs.Bool("disabled", false, "switch the agent off for this number")
		region     = fs.String("region", deps.region, "default region for national numbers, e.g. MA")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	digits := phone.Normalize(*rawPhone, *region)
	if digits == "" {
		return errors.New("-phone is required")
	}
	if err := readInto(prompt, *promptFile); err != nil {
		return err
	}
	if err := readInto(menu, *menuFile); err != nil {
		return err
	}

	store, closeStore, err := deps.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := store.UpsertTenant(ctx, tenant.Tenant{
		Name:         strings.TrimSpace(*name),
		Phone:        digits,
		AgentEnabled: !*disabled,
		Voice:        strings.TrimSpace(*voice),
		SystemPrompt: strings.TrimSpace(*prompt),
		Menu:         strings.TrimSpace(*menu),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "tenant %d phone=%s agent_enabled=%t\n", id, digits, !*disabled)
	return nil
}

func runRenormalize(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) error {
	fs := flag.NewFlagSet("renormalize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	region := fs.String("region", deps.region, "default region for national numbers, e.g. MA")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, closeStore, err := deps.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.RenormalizePhones(ctx, func(raw string) string { return phone.Normalize(raw, *region) })
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "renormalized %d phone values\n", n)
	return nil
}

func runSubscribe(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) error {
	fs := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sub notify.Subscription
	fs.StringVar(&sub.Endpoint, "endpoint", "", "push service endpoint URL; required")
	fs.StringVar(&sub.P256dh, "p256dh", "", "browser public key (base64url); required")
	fs.StringVar(&sub.Auth, "auth", "", "browser auth secret (base64url); required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return errors.New("-endpoint, -p256dh and -auth are required")
	}

	store, closeStore, err := deps.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SaveSubscription(ctx, sub); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "subscription saved for %s\n", sub.Endpoint)
	return nil
}

func runVAPIDKeys(stdout io.Writer, deps cliDeps) error {
	priv, pub, err := deps.generateKeys()
	if err != nil {
		return fmt.Errorf("generate vapid keys: %w", err)
	}
	fmt.Fprintf(stdout, "VAI_PHONE_VAPID_PUBLIC_KEY=%s\nVAI_PHONE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
	return nil
}

func readInto(dst *string, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	*dst = string(b)
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "vai-phone-tenant: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}
