package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"moonfetch/pkg/credentials"
	"moonfetch/pkg/proxy"
	"moonfetch/pkg/ui"
)

var (
	credsSource   string
	credsUsername string
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage proxy credentials",
	Long: `Manage stored proxy credentials securely.

Credentials are keyed by proxy host:port and stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables MOONFETCH_PROXY_USER / MOONFETCH_PROXY_PASS (read only)

Proxies listed without inline user:pass pick up stored credentials by host.`,
}

var credsSetCmd = &cobra.Command{
	Use:   "set HOST:PORT",
	Short: "Store credentials for a proxy",
	Example: `  # Prompt for username and password
  moonfetch creds set proxy.example.net:8080

  # Username on the command line, password prompted
  moonfetch creds set proxy.example.net:8080 --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runCredsSet,
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored proxy credentials",
	Long:  `List stored proxy credentials with passwords masked.`,
	Args:  cobra.NoArgs,
	RunE:  runCredsList,
}

var credsDeleteCmd = &cobra.Command{
	Use:   "delete HOST:PORT",
	Short: "Remove stored credentials for a proxy",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredsDelete,
}

func init() {
	rootCmd.AddCommand(credsCmd)
	credsCmd.AddCommand(credsSetCmd)
	credsCmd.AddCommand(credsListCmd)
	credsCmd.AddCommand(credsDeleteCmd)

	credsCmd.PersistentFlags().StringVar(&credsSource, "source", "", "credential store: keyring, file or env (default from config)")
	credsSetCmd.Flags().StringVarP(&credsUsername, "user", "u", "", "proxy username")
}

func credentialManager() (*credentials.Manager, error) {
	source := credsSource
	if source == "" {
		cfg, _, err := loadConfig(nil)
		if err != nil {
			return nil, err
		}
		source = cfg.Proxy.Credentials
	}
	// "none" disables lookups at request time, but storing still needs a backend
	if source == "none" {
		source = "keyring"
	}
	return credentials.NewManager(source)
}

// normalizeHost accepts host:port or a proxy URL and returns host:port
func normalizeHost(raw string) (string, error) {
	ep, err := proxy.ParseEndpoint(raw)
	if err != nil {
		return "", err
	}
	return ep.Host(), nil
}

func runCredsSet(cmd *cobra.Command, args []string) error {
	host, err := normalizeHost(args[0])
	if err != nil {
		return err
	}
	manager, err := credentialManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	username := credsUsername
	if username == "" {
		fmt.Print("Proxy username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(input)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if existing, _ := manager.Retrieve(host); existing != nil {
		fmt.Printf("Credentials for %s already exist. Replace them? (y/N): ", host)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Proxy password: ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	cred := &credentials.ProxyCredential{
		Host:         host,
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}
	if err := manager.Store(cred); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess("Credentials stored for " + host)
	return nil
}

func runCredsList(cmd *cobra.Command, args []string) error {
	manager, err := credentialManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	creds, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(creds) == 0 {
		ui.PrintInfo("No stored credentials", "use 'moonfetch creds set HOST:PORT' to add one")
		return nil
	}

	ui.PrintHighlight("Stored proxy credentials")
	for i, cred := range creds {
		s := credentials.Sanitize(cred)
		fmt.Printf("%d. %s\n", i+1, s.Host)
		fmt.Printf("   Username: %s\n", s.Username)
		fmt.Printf("   Password: %s\n", s.Password)
		if !s.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func runCredsDelete(cmd *cobra.Command, args []string) error {
	host, err := normalizeHost(args[0])
	if err != nil {
		return err
	}
	manager, err := credentialManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(host); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	ui.PrintSuccess("Credentials removed for " + host)
	return nil
}

// readPassword reads a password without echo when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
