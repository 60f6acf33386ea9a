// Command sealkey produces ENC:v1: values for OPENAI_API_KEY and
// ANTHROPIC_API_KEY (or their Secret Manager secrets).
//
//	sealkey -generate                      print a fresh PROVIDER_KEY_ENCRYPTION_KEY
//	printf %s "$KEY" | sealkey             seal stdin with PROVIDER_KEY_ENCRYPTION_KEY
package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"norvis/internal/crypto"

	"github.com/joho/godotenv"
)

func main() {
	generate := flag.Bool("generate", false, "Print a new random 32-byte encryption key and exit")
	flag.Parse()

	if *generate {
		key, err := generateKey(rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	_ = godotenv.Load()
	sealed, err := seal(os.Stdin, os.Getenv("PROVIDER_KEY_ENCRYPTION_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(sealed)
}

func generateKey(r io.Reader) (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// seal reads one provider key from r. Trailing newlines are dropped so
// `echo` and `printf` behave the same.
func seal(r io.Reader, hexKey string) (string, error) {
	if strings.TrimSpace(hexKey) == "" {
		return "", errors.New("PROVIDER_KEY_ENCRYPTION_KEY is not set")
	}
	cipher, err := crypto.NewKeyCipher(hexKey)
	if err != nil {
		return "", fmt.Errorf("PROVIDER_KEY_ENCRYPTION_KEY: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading key from stdin: %w", err)
	}
	plaintext := strings.TrimRight(string(raw), "\r\n")
	if plaintext == "" {
		return "", errors.New("no key on stdin")
	}
	if crypto.IsSealed(plaintext) {
		return "", errors.New("input is already sealed")
	}
	return cipher.Seal(plaintext)
}
