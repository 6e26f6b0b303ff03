// Command pierre-bootstrap provisions the first tenant, OAuth client,
// and (optionally) admin user for a fresh Pierre deployment: it applies
// every pending migration, creates the named tenant, registers an OAuth
// client under it, and, with -admin-email set, creates an already-
// approved admin account — all outside the running server, the same way
// the very first super_admin is bootstrapped rather than minted through
// the normal approval queue.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/pierre-mcp/pierre/pkg/oauthserver"
	"github.com/pierre-mcp/pierre/pkg/store"
	"github.com/pierre-mcp/pierre/pkg/tenants"
	"github.com/pierre-mcp/pierre/pkg/users"
)

func main() {
	dbURL := flag.String("db-url", "", "Postgres connection string (falls back to DATABASE_URL)")
	tenantName := flag.String("tenant", "", "name of the tenant to create")
	clientName := flag.String("client-name", "bootstrap", "client_name to register under the tenant")
	redirectURI := flag.String("redirect-uri", "", "redirect_uri to register for the client")
	scopes := flag.String("scopes", "profile:read providers:read activities:read", "space-separated scopes to grant the client")
	firstParty := flag.Bool("first-party", false, "register the client with grant_types including password and allow it the ROPC grant")
	adminEmail := flag.String("admin-email", "", "if set, also create and approve an admin user under the tenant with this email")
	adminPassword := flag.String("admin-password", "", "password for -admin-email (required if -admin-email is set)")
	flag.Parse()

	url := *dbURL
	if url == "" {
		url = envDatabaseURL()
	}
	if url == "" {
		log.Fatal("pierre-bootstrap: -db-url or DATABASE_URL is required")
	}
	if *tenantName == "" {
		log.Fatal("pierre-bootstrap: -tenant is required")
	}
	if *redirectURI == "" {
		log.Fatal("pierre-bootstrap: -redirect-uri is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		log.Fatalf("pierre-bootstrap: open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	log.Println("[bootstrap] applying migrations...")
	applied, err := store.Migrate(db)
	if err != nil {
		log.Fatalf("pierre-bootstrap: migrate: %v", err)
	}
	log.Printf("[bootstrap] applied %d migrations", applied)

	tenantStore := tenants.NewPostgresStore(db)
	tenant, err := tenantStore.Create(ctx, tenants.CreateRequest{Name: *tenantName})
	if err != nil {
		log.Fatalf("pierre-bootstrap: create tenant: %v", err)
	}
	log.Printf("[bootstrap] created tenant %q (id: %s)", tenant.Name, tenant.ID)

	userStore := users.NewPostgresStore(db)
	oauthSrv := oauthserver.New(db, nil, oauthserver.Config{}, userStore)

	grantTypes := []string{"authorization_code", "refresh_token", "client_credentials"}
	if *firstParty {
		grantTypes = append(grantTypes, "password")
	}
	reg, err := oauthSrv.RegisterClient(ctx, tenant.ID, oauthserver.RegistrationRequest{
		RedirectURIs: []string{*redirectURI},
		Scopes:       strings.Fields(*scopes),
		GrantTypes:   grantTypes,
		ClientName:   *clientName,
		FirstParty:   *firstParty,
	})
	if err != nil {
		log.Fatalf("pierre-bootstrap: register client: %v", err)
	}

	fmt.Println()
	fmt.Println("Tenant and OAuth client provisioned. Save the client_secret now, it will not be shown again.")
	fmt.Printf("  tenant_id:     %s\n", tenant.ID)
	fmt.Printf("  client_id:     %s\n", reg.ClientID)
	fmt.Printf("  client_secret: %s\n", reg.ClientSecret)
	fmt.Printf("  scopes:        %s\n", strings.Join(reg.Scopes, " "))

	if *adminEmail != "" {
		if *adminPassword == "" {
			log.Fatal("pierre-bootstrap: -admin-password is required with -admin-email")
		}
		admin, err := userStore.CreateAdmin(ctx, tenant.ID, *adminEmail, *adminPassword)
		if err != nil {
			log.Fatalf("pierre-bootstrap: create admin user: %v", err)
		}
		fmt.Printf("  admin user:    %s (id: %s)\n", admin.Email, admin.ID)
	}
}

func envDatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}
