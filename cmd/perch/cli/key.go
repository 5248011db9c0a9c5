package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/purrrlove/perch/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys used to authenticate against the gateway.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		userID  int64
		name    string
		scopes  []string
		expires string
		allowIP []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate an API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  perch key create --user 1 --name "CI pipeline" --scopes read,write
  perch key create --user 1 --name "monitor" --allow-ip 10.0.0.0/24 --expires 2027-01-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(userID, name, scopes, expires, allowIP)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "ID of the user who owns the key (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes to grant (read, write, admin, client; default read)")
	cmd.Flags().StringVar(&expires, "expires", "", "RFC 3339 expiry timestamp")
	cmd.Flags().StringSliceVar(&allowIP, "allow-ip", nil, "IPs or CIDR blocks the key may be used from")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(userID int64, name string, scopes []string, expires string, allowIP []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	params := service.CreateParams{
		Name:        name,
		Scopes:      scopes,
		IPAllowlist: allowIP,
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return fmt.Errorf("invalid --expires value %q: expected RFC 3339", expires)
		}
		params.ExpiresAt = &t
	}

	keys := service.NewKeyService(st)
	created, err := keys.Create(context.Background(), userID, params)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", created.RawSecret)
	fmt.Printf("  Name:   %s\n", created.Key.Name)
	fmt.Printf("  Scopes: %s\n", strings.Join(created.Key.Scopes(), ", "))
	if created.Key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", created.Key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		userID     int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(userID, jsonOutput)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "ID of the user whose keys to list (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyList(userID int64, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys := service.NewKeyService(st)
	views, err := keys.ListForOwner(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(views) == 0 {
		fmt.Println("No API keys found. Use 'perch key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-14s %-24s %-20s %-8s\n", "ID", "PREFIX", "NAME", "SCOPES", "ACTIVE")
	fmt.Printf("%-6s %-14s %-24s %-20s %-8s\n", "--", "------", "----", "------", "------")
	for _, v := range views {
		active := "yes"
		if !v.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-14s %-24s %-20s %-8s\n", v.ID, v.KeyPrefix, v.Name, strings.Join(v.Scopes, ","), active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key by its ID",
		Long:  "Deactivate an API key. The key stops authenticating on the very next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyRevoke(keyID, userID)
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "ID of the user who owns the key (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRevoke(keyID, userID int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys := service.NewKeyService(st)
	if err := keys.Revoke(context.Background(), keyID, userID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %d\n", keyID)
	return nil
}
