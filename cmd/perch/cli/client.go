package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/purrrlove/perch/internal/audit"
	"github.com/purrrlove/perch/internal/service"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage OAuth2 client applications",
		Long:  "Register and list the OAuth2 clients that integrate with the platform.",
	}

	cmd.AddCommand(newClientRegisterCmd())
	cmd.AddCommand(newClientListCmd())

	return cmd
}

// ---------- client register ----------

func newClientRegisterCmd() *cobra.Command {
	var (
		name        string
		redirectURI string
		scopes      []string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new OAuth2 client",
		Long:  "Register a client application. The client secret is shown once and cannot be retrieved again.",
		Example: `  perch client register --name "Cat Cafe App" --redirect-uri https://catcafe.example/callback
  perch client register --name "Reporting" --redirect-uri https://r.example/cb --scopes read`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClientRegister(name, redirectURI, scopes)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Application name (required)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI for the authorization flow (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes the client may request (default read)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("redirect-uri")

	return cmd
}

func runClientRegister(name, redirectURI string, scopes []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	oauth := service.NewOAuthService(st, audit.Nop{})
	client, secret, err := oauth.RegisterClient(context.Background(), name, redirectURI, scopes)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}

	fmt.Println("OAuth2 client registered:")
	fmt.Println()
	fmt.Printf("  Client ID:     %s\n", client.ClientID)
	fmt.Printf("  Client secret: %s\n", secret)
	fmt.Printf("  Redirect URI:  %s\n", client.RedirectURI)
	fmt.Printf("  Scopes:        %s\n", strings.Join(client.Scopes(), ", "))
	fmt.Println()
	fmt.Println("  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- client list ----------

func newClientListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered OAuth2 clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClientList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runClientList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	clients, err := st.ListOAuthClients(context.Background())
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}

	type clientRow struct {
		ClientID    string   `json:"client_id"`
		Name        string   `json:"name"`
		RedirectURI string   `json:"redirect_uri"`
		Scopes      []string `json:"scopes"`
		Active      bool     `json:"active"`
	}

	rows := make([]clientRow, len(clients))
	for i, c := range clients {
		rows[i] = clientRow{
			ClientID:    c.ClientID,
			Name:        c.Name,
			RedirectURI: c.RedirectURI,
			Scopes:      c.Scopes(),
			Active:      c.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No OAuth2 clients registered. Use 'perch client register' to add one.")
		return nil
	}

	fmt.Printf("%-24s %-20s %-36s %-8s\n", "CLIENT ID", "NAME", "REDIRECT URI", "ACTIVE")
	fmt.Printf("%-24s %-20s %-36s %-8s\n", "---------", "----", "------------", "------")
	for _, c := range rows {
		active := "yes"
		if !c.Active {
			active = "no"
		}
		fmt.Printf("%-24s %-20s %-36s %-8s\n", c.ClientID, c.Name, c.RedirectURI, active)
	}

	return nil
}
