// Command sealtoken encrypts an identity session token for the token_enc
// field of the identity roster.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"dropwatch/internal/config"
	"dropwatch/internal/security/secretbox"
)

func main() {
	genKey := flag.Bool("generate-key", false, "print a new IDENTITY_ENCRYPTION_KEY and exit")
	token := flag.String("token", "", "token to seal; read from stdin when empty")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *genKey {
		key, err := secretbox.GenerateKey()
		if err != nil {
			logger.Error("generate key", "error", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}
	box, err := secretbox.New(config.Load().IdentityEncryptionKey)
	if err != nil {
		logger.Error("encryption key", "error", err)
		os.Exit(1)
	}

	plain := *token
	if plain == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			logger.Error("read token from stdin", "error", err)
			os.Exit(1)
		}
		plain = strings.TrimSpace(line)
	}
	if plain == "" {
		logger.Error("empty token")
		os.Exit(1)
	}
	sealed, err := box.Encrypt(plain)
	if err != nil {
		logger.Error("seal token", "error", err)
		os.Exit(1)
	}
	fmt.Println(sealed)
}
