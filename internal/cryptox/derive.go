package cryptox

import "golang.org/x/crypto/argon2"

// argon2idパラメータ。導出結果の互換性に関わるため変更しないこと。
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// DeriveWrappingKey はアカウント秘密とソルトからラップ鍵を導出する。
// argon2idを使用する。同一の入力に対して常に同一の鍵を返す。
func DeriveWrappingKey(accountSecret, salt []byte) []byte {
	return argon2.IDKey(accountSecret, salt, argonTime, argonMemory, argonThreads, KeySize)
}
