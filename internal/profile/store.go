// Package profile は暗号化プロファイルストアを提供する。
// プロファイル本体はアカウントローカルのディレクトリにAES-256-GCMで
// 暗号化して保存し、中央DBにはラップ済みデータ鍵とソルトのみを置く。
// 平文のPIIが中央の永続ストアに書かれることはない。
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/kaisho/internal/cryptox"
	"github.com/hitoshi/kaisho/internal/model"
	"github.com/hitoshi/kaisho/internal/repository"
)

// blobFileName はアカウントディレクトリ内のプロファイルファイル名。
const blobFileName = "profile.enc"

// blobFile はアカウントローカルに保存される暗号化プロファイルの形式。
// Checksumは平文のSHA-256で、復号のたびに照合する。
type blobFile struct {
	CipherText []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	Checksum   []byte    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store は暗号化プロファイルストア。
type Store struct {
	dir          string
	masterSecret []byte
	keyRepo      repository.ProfileKeyRepository
}

// NewStore はStoreの新しいインスタンスを生成する。
// dirはアカウントローカル格納のルートディレクトリ。
func NewStore(dir string, masterSecret []byte, keyRepo repository.ProfileKeyRepository) *Store {
	return &Store{
		dir:          dir,
		masterSecret: masterSecret,
		keyRepo:      keyRepo,
	}
}

// Save はプロファイルを暗号化して保存する。
// データ鍵は保存のたびに新規生成し、アカウント秘密から導出したラップ鍵で
// ラップして中央に渡す。中央は鍵の所在を証明できるが内容は読めない。
func (s *Store) Save(ctx context.Context, accountID string, fields map[model.Field]string) error {
	for f := range fields {
		if !model.IsKnownField(f) {
			return model.NewUnknownFieldError(f)
		}
	}

	plaintext, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	dataKey, err := cryptox.GenerateKey()
	if err != nil {
		return err
	}

	ciphertext, nonce, err := cryptox.Encrypt(plaintext, dataKey)
	if err != nil {
		return err
	}

	salt, err := cryptox.GenerateSalt()
	if err != nil {
		return err
	}
	wrappingKey := cryptox.DeriveWrappingKey(s.accountSecret(accountID), salt)
	wrappedKey, wrapNonce, err := cryptox.WrapKey(dataKey, wrappingKey)
	if err != nil {
		return err
	}

	blob := blobFile{
		CipherText: ciphertext,
		Nonce:      nonce,
		Checksum:   cryptox.Checksum(plaintext),
		UpdatedAt:  time.Now(),
	}
	if err := s.writeBlob(accountID, &blob); err != nil {
		return err
	}

	if err := s.keyRepo.Save(ctx, &repository.ProfileKeyRecord{
		AccountID:  accountID,
		WrappedKey: wrappedKey,
		WrapNonce:  wrapNonce,
		Salt:       salt,
	}); err != nil {
		return fmt.Errorf("プロファイル鍵の保存に失敗しました: %w", err)
	}

	slog.Info("プロファイルを保存しました",
		slog.Int("field_count", len(fields)),
	)
	return nil
}

// Load はプロファイルを復号して返す。
// 復号後の平文から再計算したチェックサムが保存値と一致しない場合は
// IntegrityViolationで失敗し、データは一切返さない。
func (s *Store) Load(ctx context.Context, accountID string) (map[model.Field]string, error) {
	keyRecord, err := s.keyRepo.Find(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("プロファイル鍵の取得に失敗しました: %w", err)
	}
	if keyRecord == nil {
		return nil, model.NewProfileNotFoundError()
	}

	blob, err := s.readBlob(accountID)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, model.NewProfileNotFoundError()
	}

	wrappingKey := cryptox.DeriveWrappingKey(s.accountSecret(accountID), keyRecord.Salt)
	dataKey, err := cryptox.UnwrapKey(keyRecord.WrappedKey, keyRecord.WrapNonce, wrappingKey)
	if err != nil {
		// 鍵のアンラップ失敗も改ざん・破損として扱う
		return nil, model.NewIntegrityViolationError()
	}

	plaintext, err := cryptox.Decrypt(blob.CipherText, blob.Nonce, dataKey)
	if err != nil {
		return nil, model.NewIntegrityViolationError()
	}

	if !checksumEqual(cryptox.Checksum(plaintext), blob.Checksum) {
		return nil, model.NewIntegrityViolationError()
	}

	var fields map[model.Field]string
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, model.NewIntegrityViolationError()
	}
	return fields, nil
}

// Update はプロファイルを部分更新する。
// 読み出し・マージ・再暗号化・再保存を行い、partialFieldsに
// 含まれないフィールドは既存の値を維持する。
func (s *Store) Update(ctx context.Context, accountID string, partialFields map[model.Field]string) error {
	existing, err := s.Load(ctx, accountID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeProfileNotFound {
			existing = map[model.Field]string{}
		} else {
			return err
		}
	}

	for f, v := range partialFields {
		existing[f] = v
	}
	return s.Save(ctx, accountID, existing)
}

// accountSecret はアカウント固有の秘密を返す。
// ストア側マスターシークレットとアカウントIDの連結をargon2idの入力とする。
func (s *Store) accountSecret(accountID string) []byte {
	secret := make([]byte, 0, len(s.masterSecret)+len(accountID))
	secret = append(secret, s.masterSecret...)
	secret = append(secret, accountID...)
	return secret
}

func (s *Store) blobPath(accountID string) string {
	return filepath.Join(s.dir, accountID, blobFileName)
}

func (s *Store) writeBlob(accountID string, blob *blobFile) error {
	path := s.blobPath(accountID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create account dir: %w", err)
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal blob: %w", err)
	}

	// 書き込み途中のクラッシュで既存blobを壊さないよう、一時ファイル経由でrenameする
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace blob: %w", err)
	}
	return nil
}

func (s *Store) readBlob(accountID string) (*blobFile, error) {
	data, err := os.ReadFile(s.blobPath(accountID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	blob := &blobFile{}
	if err := json.Unmarshal(data, blob); err != nil {
		return nil, model.NewIntegrityViolationError()
	}
	return blob, nil
}

// checksumEqual は固定長ハッシュの比較。タイミング攻撃の対象ではないが
// 長さ不一致を明示的に弾く。
func checksumEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
