package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"pixivdl/pkg/auth"
	"pixivdl/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage pixiv and fanbox credentials",
	Long: `Manage stored credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your credentials or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a pixiv access token and/or fanbox session",
	Long: `Store credentials in the system keychain or an encrypted file.

You will be prompted for:
  - Account name (if not provided)
  - pixiv user id (optional, used when bookmarks/works get no argument)
  - pixiv access token (optional, hidden)
  - FANBOXSESSID cookie value (optional, hidden)

At least one of the two secrets is required.`,
	Example: `  pixivdl auth login
  pixivdl auth login main`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored accounts with masked credentials.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		input, _ := reader.ReadString('\n')
		return strings.TrimSpace(input)
	}

	auth.ShowTokenGuide(os.Stdout)
	if strings.EqualFold(prompt("Ready to enter your credentials? (Y/n): "), "n") {
		fmt.Println("\nRun 'pixivdl auth login' when you're ready.")
		return nil
	}
	fmt.Println()

	name := ""
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}
	if name == "" {
		name = prompt("Account name: ")
	}
	if name == "" {
		return errors.New("account name is required")
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		answer := prompt(fmt.Sprintf("\nAccount '%s' already exists. Update credentials? (y/N): ", name))
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			return nil
		}
	}

	account := &auth.Account{Name: name}
	account.PixivUserID = prompt("pixiv user id (Enter to skip): ")

	fmt.Println("\nSecrets are hidden as you type. Press Enter to skip one.")
	fmt.Print("pixiv access token: ")
	if account.PixivAccessToken, err = readSecret(reader); err != nil {
		return fmt.Errorf("failed to read access token: %w", err)
	}
	fmt.Print("FANBOXSESSID: ")
	if account.FanboxSessionID, err = readSecret(reader); err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	masked := auth.SanitizeAccount(account)
	fmt.Println("\nSummary:")
	fmt.Printf("   Name: %s\n", masked.Name)
	if masked.PixivUserID != "" {
		fmt.Printf("   pixiv user id: %s\n", masked.PixivUserID)
	}
	if masked.PixivAccessToken != "" {
		fmt.Printf("   pixiv access token: %s\n", masked.PixivAccessToken)
	}
	if masked.FanboxSessionID != "" {
		fmt.Printf("   FANBOXSESSID: %s\n", masked.FanboxSessionID)
	}

	if err := manager.Store(account); err != nil {
		return err
	}

	ui.PrintSuccess("\nAccount saved: " + name)
	fmt.Println("\nNext:")
	if account.PixivAccessToken != "" {
		fmt.Println("   $ pixivdl bookmarks <user-id>")
		fmt.Println("   $ pixivdl works <user-id>")
	}
	if account.FanboxSessionID != "" {
		fmt.Println("   $ pixivdl fanbox <creator-id>")
	}
	fmt.Printf("   Add --account %s to pick this account explicitly.\n", name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if len(args) == 1 {
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		ui.PrintSuccess("Account removed: " + args[0])
		return nil
	}

	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintWarning("No stored accounts found")
		return nil
	}

	fmt.Println("Select account to remove:")
	for i, account := range accounts {
		fmt.Printf("  %d. %s\n", i+1, account.Name)
	}
	fmt.Printf("  %d. Remove all accounts\n", len(accounts)+1)
	fmt.Printf("  0. Cancel\n\n")

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)

	switch {
	case choice == 0:
		return nil
	case choice == len(accounts)+1:
		fmt.Print("Remove ALL accounts? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return nil
		}
		if err := manager.DeleteAll(); err != nil {
			return err
		}
		ui.PrintSuccess("All accounts removed")
	case choice > 0 && choice <= len(accounts):
		name := accounts[choice-1].Name
		if err := manager.Delete(name); err != nil {
			return err
		}
		ui.PrintSuccess("Account removed: " + name)
	default:
		return errors.New("invalid choice")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'pixivdl auth login' to add an account")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()
	for i, account := range accounts {
		masked := auth.SanitizeAccount(account)
		fmt.Printf("%d. %s\n", i+1, masked.Name)
		if masked.PixivUserID != "" {
			fmt.Printf("   pixiv user id: %s\n", masked.PixivUserID)
		}
		if masked.PixivAccessToken != "" {
			fmt.Printf("   pixiv access token: %s\n", masked.PixivAccessToken)
		}
		if masked.FanboxSessionID != "" {
			fmt.Printf("   FANBOXSESSID: %s\n", masked.FanboxSessionID)
		}
		fmt.Printf("   Last Modified: %s\n\n", masked.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
