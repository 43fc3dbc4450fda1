package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/newsletter/internal/model"
	"github.com/hitoshi/newsletter/internal/repository"
	"github.com/samber/oops"
)

// dummyPasswordHash は存在しないユーザー名に対しても検証処理を行うための固定ハッシュ。
// どのパスワードとも一致しない。
const dummyPasswordHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// PasswordVerifier はパスワードとハッシュの照合を行う。
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

// Service はユーザー名とパスワードの組を保存済みの認証情報と照合する。
type Service struct {
	credRepo repository.CredentialRepository
	hasher   PasswordVerifier
}

// NewService はServiceを生成する。
func NewService(credRepo repository.CredentialRepository, hasher PasswordVerifier) *Service {
	return &Service{
		credRepo: credRepo,
		hasher:   hasher,
	}
}

// Verify は認証に成功した場合にユーザーIDを返す。
// 未知のユーザー名とパスワード不一致はどちらも認証エラーとなる。
// 未知のユーザー名でもダミーハッシュで照合を行い、応答時間の差を抑える。
func (s *Service) Verify(ctx context.Context, username, password string) (string, error) {
	cred, err := s.credRepo.FindByUsername(ctx, username)
	if err != nil {
		return "", model.NewUnexpectedError(
			oops.In("auth").With("username", username).Wrapf(err, "find credential"))
	}

	if cred == nil {
		_, _ = s.hasher.Verify(password, dummyPasswordHash)
		return "", model.NewAuthError("unknown username")
	}

	ok, err := s.hasher.Verify(password, cred.PasswordHash)
	if err != nil {
		if errors.Is(err, ErrInvalidHash) {
			return "", model.NewUnexpectedError(
				oops.In("auth").With("user_id", cred.UserID).Wrapf(err, "stored password hash is corrupted"))
		}
		return "", model.NewUnexpectedError(err)
	}
	if !ok {
		return "", model.NewAuthError("invalid password")
	}

	return cred.UserID, nil
}
