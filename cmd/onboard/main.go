package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/database"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/logger"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/token"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/warehouse"
)

const oauthScope = "com.intuit.quickbooks.accounting"

// onboard walks one tenant through the OAuth consent flow: it serves the
// redirect URI locally, prints the consent URL, exchanges the returned code
// for tokens, and registers the tenant in the warehouse.
func main() {
	clientID := flag.String("client-id", "", "tenant identifier for the new connection (required)")
	displayName := flag.String("display-name", "", "human-readable tenant name")
	grantUser := flag.String("grant-user", "", "warehouse user principal to grant row access (optional)")
	listenAddr := flag.String("listen", ":8080", "address for the local OAuth callback listener")
	flag.Parse()

	log := logger.New()
	if *clientID == "" {
		log.Fatal().Msg("--client-id is required")
	}

	cfg := config.Load()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to warehouse")
	}
	defer db.Close()

	store, err := newTokenStore(cfg.TokenStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token store")
	}
	tokens := token.NewManager(store, cfg.QBO, cfg.TokenStore.RefreshBuffer, log)
	registry := warehouse.NewTenantRegistry(db)

	state := uuid.NewString()
	done := make(chan error, 1)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/callback", callbackHandler(tokens, registry, *clientID, *displayName, *grantUser, state, log, done))

	go func() {
		if err := app.Listen(*listenAddr); err != nil {
			done <- fmt.Errorf("callback listener: %w", err)
		}
	}()

	fmt.Println("Open the following URL in a browser and authorize the company:")
	fmt.Println()
	fmt.Println(consentURL(cfg.QBO, state))
	fmt.Println()

	err = <-done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)

	if err != nil {
		log.Fatal().Err(err).Msg("onboarding failed")
	}
	log.Info().Str("client_id", *clientID).Msg("tenant onboarded")
}

// consentURL builds the authorization URL the operator opens in a browser.
func consentURL(cfg config.QBOConfig, state string) string {
	q := url.Values{
		"client_id":     {cfg.ClientID},
		"response_type": {"code"},
		"scope":         {oauthScope},
		"redirect_uri":  {cfg.RedirectURI},
		"state":         {state},
	}
	return cfg.AuthURL + "?" + q.Encode()
}

// callbackHandler completes the flow: it validates the state parameter,
// exchanges the code, stores the credential, and registers the tenant.
func callbackHandler(tokens *token.Manager, registry *warehouse.TenantRegistry, clientID, displayName, grantUser, state string, log zerolog.Logger, done chan<- error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("state") != state {
			err := fmt.Errorf("state mismatch, possible forged callback")
			done <- err
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		code := c.Query("code")
		realmID := c.Query("realmId")
		if code == "" || realmID == "" {
			err := fmt.Errorf("callback missing code or realmId")
			done <- err
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}

		ctx := c.Context()
		if _, err := tokens.Exchange(ctx, clientID, code, realmID); err != nil {
			done <- err
			return c.Status(fiber.StatusBadGateway).SendString("token exchange failed")
		}

		name := displayName
		if name == "" {
			name = clientID
		}
		tenant := model.Tenant{ClientID: clientID, DisplayName: name, RealmID: realmID, Active: true}
		if err := registry.Register(ctx, tenant); err != nil {
			done <- fmt.Errorf("register tenant: %w", err)
			return c.Status(fiber.StatusInternalServerError).SendString("tenant registration failed")
		}
		if grantUser != "" {
			if err := registry.GrantUser(ctx, grantUser, clientID); err != nil {
				done <- fmt.Errorf("grant user access: %w", err)
				return c.Status(fiber.StatusInternalServerError).SendString("access grant failed")
			}
		}

		log.Info().Str("client_id", clientID).Str("realm_id", realmID).Msg("consent completed")
		done <- nil
		return c.SendString("Connection authorized. You can close this window.")
	}
}

func newTokenStore(cfg config.TokenStoreConfig) (token.Store, error) {
	switch cfg.Backend {
	case "file":
		return token.NewFileStore(cfg.FileDir, cfg.FileKey)
	case "vault":
		return token.NewVaultStore(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}
