package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// Параметры Argon2id
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32 // AES-256

	saltLength      = 16
	saltPermissions = 0600

	// Префикс версии формата, чтобы отличать шифротекст от старых открытых данных
	sealVersion byte = 1
)

var (
	ErrEmptySecret    = errors.New("секрет хранилища не задан")
	ErrShortSealed    = errors.New("шифротекст слишком короткий")
	ErrUnknownVersion = errors.New("неизвестная версия формата шифрования")
)

// Sealer шифрует данные локального хранилища ключом, выведенным из секрета
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer выводит ключ из секрета и соли из файла saltPath.
// Если файла нет, соль генерируется и сохраняется.
func NewSealer(secret, saltPath string) (*Sealer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}

	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, err
	}

	return NewSealerWithSalt(secret, salt)
}

// NewSealerWithSalt выводит ключ из секрета и готовой соли
func NewSealerWithSalt(secret string, salt []byte) (*Sealer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}

	key := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal шифрует данные с использованием AES-GCM
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plaintext, []byte{sealVersion}), nil
}

// Open расшифровывает данные, зашифрованные Seal
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < 1+nonceSize {
		return nil, ErrShortSealed
	}
	if subtle.ConstantTimeByteEq(sealed[0], sealVersion) != 1 {
		return nil, ErrUnknownVersion
	}

	nonce, ciphertext := sealed[1:1+nonceSize], sealed[1+nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte{sealVersion})
	if err != nil {
		return nil, fmt.Errorf("ошибка расшифровки: %w", err)
	}

	return plaintext, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		salt, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(salt) != saltLength {
			return nil, fmt.Errorf("файл соли поврежден: %s", path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка чтения соли: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("ошибка генерации соли: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("ошибка создания директории: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), saltPermissions); err != nil {
		return nil, fmt.Errorf("ошибка сохранения соли: %w", err)
	}

	return salt, nil
}
