package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secretsDir — стандартный каталог Docker Secrets внутри контейнера.
const secretsDir = "/run/secrets"

// ReadSecret читает значение секрета из файла в каталоге Docker Secrets.
// Fallback на переменные окружения не делается: источник секретов один
// во всех окружениях.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(secretsDir, secretName)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("секрет %q: не удалось прочитать %s: %w", secretName, filePath, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("секрет %q: файл %s пуст", secretName, filePath)
	}
	return value, nil
}
