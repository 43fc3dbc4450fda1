// Package auth はニュースレター配信者の認証を提供する。
// パスワードはargon2idでハッシュ化し、PHC文字列形式で保存する。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2idのデフォルトパラメータ（OWASP推奨の最小構成）。
const (
	defaultArgon2Time    = 2
	defaultArgon2Memory  = 19 * 1024 // KiB
	defaultArgon2Threads = 1
	argon2SaltLen        = 16
	argon2KeyLen         = 32
)

// ErrInvalidHash は保存されたハッシュ文字列を解釈できないことを表す。
var ErrInvalidHash = errors.New("invalid argon2id hash")

// ErrEmptyPassword は空パスワードのハッシュ化を拒否したことを表す。
var ErrEmptyPassword = errors.New("password must not be empty")

// Argon2Params はargon2idの計算コストを表す。
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Params は新規ハッシュ作成時に使用するパラメータを返す。
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    defaultArgon2Time,
		Memory:  defaultArgon2Memory,
		Threads: defaultArgon2Threads,
	}
}

// Argon2idHasher はargon2idによるパスワードのハッシュ化と検証を行う。
type Argon2idHasher struct {
	params Argon2Params
}

// NewArgon2idHasher はArgon2idHasherを生成する。
func NewArgon2idHasher(params Argon2Params) *Argon2idHasher {
	return &Argon2idHasher{params: params}
}

// Hash はパスワードをハッシュ化し、PHC形式の文字列を返す。
//
//	$argon2id$v=19$m=19456,t=2,p=1$<salt>$<key>
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, argon2KeyLen)

	return encodePHC(h.params, salt, key), nil
}

// Verify はパスワードがハッシュと一致するかを定数時間で比較する。
// ハッシュに埋め込まれたパラメータで再計算するため、
// 作成時と異なるパラメータのハッシュも検証できる。
// ハッシュが解釈できない場合はErrInvalidHashを返す。
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	phc, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), phc.salt,
		phc.params.Time, phc.params.Memory, phc.params.Threads, uint32(len(phc.key)))

	return subtle.ConstantTimeCompare(computed, phc.key) == 1, nil
}

type phcHash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func encodePHC(p Argon2Params, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// parsePHC はPHC形式の文字列を分解する。
// 先頭が"$"のため、Splitの結果は空文字列を含む6要素になる。
func parsePHC(encoded string) (*phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: expected 6 segments", ErrInvalidHash)
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidHash, err)
	}
	if time == 0 || threads == 0 || threads > 255 {
		return nil, fmt.Errorf("%w: params out of range", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidHash, len(key))
	}

	return &phcHash{
		params: Argon2Params{Time: time, Memory: memory, Threads: uint8(threads)},
		salt:   salt,
		key:    key,
	}, nil
}
