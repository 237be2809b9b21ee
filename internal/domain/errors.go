package domain

import "errors"

var (
	// ErrInvalidInput は入力値が不正な場合のエラー。呼び出し側で修正のうえ再試行できる。
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidOwnerID は所有者IDの形式が不正な場合のエラー。
	ErrInvalidOwnerID = errors.New("invalid owner ID")

	// ErrKeyNotFound は鍵が存在しない、または呼び出し元が所有していない場合のエラー。
	// 存在の有無を漏らさないため、両者は区別しない。
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyAlreadyRevoked は既に失効済みの鍵を失効しようとした場合のエラー。
	ErrKeyAlreadyRevoked = errors.New("key is already revoked")

	// ErrKeyRevoked は失効済み鍵に対して禁止された操作（エクスポート等）のエラー。
	ErrKeyRevoked = errors.New("key is revoked")

	// ErrEncryption は暗号化処理の失敗を表すエラー。
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption は復号処理の失敗を表すエラー。
	// 認証タグ不一致・パスフレーズ誤り・暗号文破損を外部から区別できてはならない。
	ErrDecryption = errors.New("decryption failed")

	// ErrKeyGeneration は鍵生成の失敗を表すエラー。
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrSigning は署名生成の失敗を表すエラー。
	ErrSigning = errors.New("signing failed")

	// ErrVerification は署名検証の構造的な失敗を表すエラー。
	// 意味的な不一致（改ざん・鍵違い）はエラーではなくfalseで返す。
	ErrVerification = errors.New("verification failed")

	// ErrUnsupportedAlgorithm はサポート外のアルゴリズム名が指定された場合のエラー。
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
