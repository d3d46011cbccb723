package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcartlabs/kcartbot/internal/api"
	"github.com/kcartlabs/kcartbot/internal/config"
)

var (
	authUsername string
	authPassword string
	authEmail    string
	authRole     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to your ChipChip account",
	Long: `Authenticate against the KcartBot backend and store the session
token locally.

Your credentials are stored in ~/.kcartbot/credentials`,
	RunE: runLogin,
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a ChipChip account",
	RunE:  runSignup,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear stored credentials",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE:  runWhoami,
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, signupCmd} {
		cmd.Flags().StringVarP(&authUsername, "username", "u", "", "account username")
		cmd.Flags().StringVarP(&authPassword, "password", "p", "", "account password")
	}
	signupCmd.Flags().StringVarP(&authEmail, "email", "e", "", "account email")
	signupCmd.Flags().StringVar(&authRole, "role", "customer", "account role (customer or supplier)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	username, password, err := promptCredentials()
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.Server.BaseURL)
	ctx := context.Background()

	token, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %s", errorMessage(err))
	}
	client.SetToken(token)

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}

	if err := saveToken(token); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("Logged in as %s (%s)\n", user.Username, user.Role)
	return nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	username, password, err := promptCredentials()
	if err != nil {
		return err
	}
	email := authEmail
	if email == "" {
		email, err = promptLine("Email: ")
		if err != nil {
			return err
		}
	}

	client := api.NewClient(cfg.Server.BaseURL)
	ctx := context.Background()

	if err := client.Signup(ctx, username, password, email, authRole); err != nil {
		return fmt.Errorf("signup failed: %s", errorMessage(err))
	}

	token, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("account created but login failed: %s", errorMessage(err))
	}
	if err := saveToken(token); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("Account created. Logged in as %s.\n", username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	credPath := config.CredentialsPath()

	token, _ := loadToken()
	if token == "" {
		fmt.Println("Not logged in.")
		return nil
	}

	cfg, err := config.Load()
	if err == nil {
		client := api.NewClient(cfg.Server.BaseURL)
		client.SetToken(token)
		if err := client.Logout(context.Background()); err != nil {
			fmt.Println("Server logout failed; clearing local credentials anyway.")
		}
	}

	if err := os.Remove(credPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}

	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil || token == "" {
		fmt.Println("Not logged in.")
		fmt.Println()
		fmt.Println("Run 'kcartbot login' to authenticate.")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := api.NewClient(cfg.Server.BaseURL)
	client.SetToken(token)

	user, err := client.CurrentUser(context.Background())
	if err != nil {
		fmt.Println("Session expired. Please run 'kcartbot login' again.")
		return nil
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(user)
	}

	fmt.Printf("Logged in as: %s\n", user.Username)
	if user.Email != "" {
		fmt.Printf("Email: %s\n", user.Email)
	}
	fmt.Printf("Role: %s\n", user.Role)
	return nil
}

func promptCredentials() (string, string, error) {
	username := authUsername
	password := authPassword
	var err error
	if username == "" {
		username, err = promptLine("Username: ")
		if err != nil {
			return "", "", err
		}
	}
	if password == "" {
		password, err = promptLine("Password: ")
		if err != nil {
			return "", "", err
		}
	}
	return username, password, nil
}

func promptLine(label string) (string, error) {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// errorMessage prefers the server's field-level message when present.
func errorMessage(err error) string {
	var verr *api.ValidationError
	if errors.As(err, &verr) {
		return verr.Message()
	}
	return err.Error()
}

func saveToken(token string) error {
	if err := config.EnsureDirs(); err != nil {
		return err
	}
	return os.WriteFile(config.CredentialsPath(), []byte(token+"\n"), 0600)
}

func loadToken() (string, error) {
	data, err := os.ReadFile(config.CredentialsPath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
