package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/apperr"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/repository"
)

// Mailer dispatches a login email carrying a fresh token bundle.
// Delivery itself happens outside this service; failures propagate
// unchanged so the caller can report them.
type Mailer interface {
	SendLoginEmail(ctx context.Context, acc model.Account, bundle model.TokenBundle) error
}

// LoginService implements the passwordless magic-link flow: resolve the
// account by email or username, issue tokens and hand them to the
// mailer.
type LoginService struct {
	accounts *AccountService
	tokens   *TokenService
	mailer   Mailer
	log      *zap.Logger
}

func NewLoginService(accounts *AccountService, tokens *TokenService, mailer Mailer, log *zap.Logger) *LoginService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginService{accounts: accounts, tokens: tokens, mailer: mailer, log: log}
}

// SendMagicLink looks the account up by email first, then by username.
// An unknown identifier yields NotFound.
func (s *LoginService) SendMagicLink(ctx context.Context, emailOrUsername string) error {
	all := repository.FindOptions{AllFields: true}

	acc, err := s.accounts.FindByEmail(ctx, emailOrUsername, all)
	if err != nil {
		return err
	}
	if acc == nil {
		acc, err = s.accounts.FindByUsername(ctx, emailOrUsername, all)
		if err != nil {
			return err
		}
	}
	if acc == nil {
		return apperr.NotFoundf("Account not found")
	}

	bundle, err := s.tokens.Create(ctx, *acc)
	if err != nil {
		return err
	}
	if s.mailer == nil {
		return apperr.NotImplemented("login email delivery not configured")
	}
	s.log.Info("dispatching login email", zap.String("account_id", acc.ID))
	return s.mailer.SendLoginEmail(ctx, *acc, bundle)
}
