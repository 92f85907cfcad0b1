// Package cryptox はプロファイル暗号化の基礎部品を提供する。
// AES-256-GCMによる暗号化・復号、argon2idによる鍵導出、
// 平文チェックサム、データ鍵のラップ・アンラップを含む。
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// KeySize はデータ鍵・ラップ鍵のバイト長（AES-256）。
const KeySize = 32

// nonceSize はGCMのnonceバイト長。
const nonceSize = 12

// SaltSize は鍵導出ソルトのバイト長。
const SaltSize = 16

// GenerateKey は暗号論的乱数からデータ鍵を生成する。
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateSalt は鍵導出用のソルトを生成する。
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Checksum は平文のSHA-256ハッシュを返す。
// 復号のたびに保存済みチェックサムと照合し、不一致は改ざん・破損として扱う。
func Checksum(plaintext []byte) []byte {
	hash := sha256.Sum256(plaintext)
	return hash[:]
}

// Encrypt は平文をAES-256-GCMで暗号化する。
// 暗号化のたびに新しい12バイトのnonceを生成し、暗号文と分離して返す。
func Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt は暗号文をAES-256-GCMで復号する。
// nonceは暗号化時に生成されたものを渡すこと。
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// WrapKey はデータ鍵をラップ鍵で暗号化する。
// 中央ストアにはこのラップ済み鍵のみを渡し、平文のデータ鍵は渡さない。
func WrapKey(dataKey, wrappingKey []byte) (wrapped, nonce []byte, err error) {
	return Encrypt(dataKey, wrappingKey)
}

// UnwrapKey はラップ済みデータ鍵を復号する。
func UnwrapKey(wrapped, nonce, wrappingKey []byte) ([]byte, error) {
	return Decrypt(wrapped, nonce, wrappingKey)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesgcm, nil
}
