package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - стандартный путь Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// ReadSecret читает секрет из файла в каталоге секретов.
func ReadSecret(dir, secretName string) (string, error) {
	if dir == "" {
		dir = DefaultSecretsDir
	}
	filePath := filepath.Join(dir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		// Без fallback на env var, чтобы поведение было консистентным
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadOptionalSecret - как ReadSecret, но отсутствующий файл дает пустую строку.
func ReadOptionalSecret(dir, secretName string) (string, error) {
	secret, err := ReadSecret(dir, secretName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return secret, nil
}
