package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/purrrlove/perch/internal/model"
	"github.com/purrrlove/perch/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create platform user accounts that can log in and hold API keys.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserDisableCmd())
	cmd.AddCommand(newUserEnableCmd())

	return cmd
}

func newUserDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <email>",
		Short: "Disable an account",
		Long:  "Disable an account. All of its API keys and tokens stop working on the next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetActive(args[0], false)
		},
	}
}

func newUserEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <email>",
		Short: "Re-enable a disabled account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetActive(args[0], true)
		},
	}
}

func runUserSetActive(email string, active bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if err := st.SetUserActive(ctx, user.ID, active); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("User %q (ID %d) %s\n", email, user.ID, state)
	return nil
}

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		tier     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Example: `  perch user create --email cat@purrr.love --name "Cat Owner"
  perch user create --email ops@purrr.love --tier enterprise`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, tier)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&tier, "tier", model.TierFree, "Rate-limit tier (free, premium, enterprise)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name, tier string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	if !model.ValidTier(tier) {
		return fmt.Errorf("unknown tier %q (use free, premium, or enterprise)", tier)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Tier:         tier,
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q (ID %d, tier %s)\n", email, user.ID, tier)
	return nil
}
