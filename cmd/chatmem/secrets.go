package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"chatmemory/pkg/config"
)

// providerKeys are the credentials -init-secrets collects from the environment.
var providerKeys = []string{
	config.EnvAnthropicAPIKey,
	config.EnvOpenAIAPIKey,
	config.EnvGoogleAPIKey,
}

// loadSecrets decrypts the secrets file in dir when one exists. The password comes from
// CHATMEM_SECRETS_PASSWORD, or from a terminal prompt.
func loadSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}

	password := os.Getenv(config.EnvSecretsPassword)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("%s is encrypted; set %s", config.SecretsPath(dir), config.EnvSecretsPassword)
		}
		fmt.Print("Secrets password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
		clear(raw)
	}

	if _, err := config.LoadSecrets(dir, password); err != nil {
		return err
	}
	fmt.Printf("🔐 Loaded %d secret(s) from %s\n", len(config.GetDecryptedSecretNames()), config.SecretsPath(dir))
	return nil
}

// writeSecrets encrypts the provider API keys found in the environment into dir.
func writeSecrets(dir string) error {
	secrets := collectSecrets(os.Getenv)
	if len(secrets) == 0 {
		return fmt.Errorf("no API keys found in the environment (%s)", strings.Join(providerKeys, ", "))
	}

	password := os.Getenv(config.EnvSecretsPassword)
	if password == "" {
		var err error
		if password, err = promptForPassword(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := config.EncryptSecretsFile(dir, password, secrets); err != nil {
		return err
	}
	fmt.Printf("✅ %d credential(s) saved to %s (file permissions: 0600)\n", len(secrets), config.SecretsPath(dir))
	return nil
}

func collectSecrets(getenv func(string) string) map[string]string {
	secrets := make(map[string]string)
	for _, name := range providerKeys {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			secrets[name] = v
		}
	}
	return secrets
}

// promptForPassword prompts for a new password with confirmation.
func promptForPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no terminal to prompt for a password; set %s", config.EnvSecretsPassword)
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Print("Enter a password for the secrets file: ")
		password1, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		match := bytes.Equal(password1, password2) && len(password1) > 0
		password := string(password1)
		clear(password1)
		clear(password2)
		if match {
			return password, nil
		}
		if attempt < maxAttempts {
			fmt.Println("❌ Passwords are empty or do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}
