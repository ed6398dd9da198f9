package service

import (
	"context"

	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// LinkWallet resolves the platform identity behind a user's access token and stores it as the
// wallet that approvals are checked against.
func (s *LifecycleService) LinkWallet(ctx context.Context, userID, accessToken string) (*domain.User, error) {
	if accessToken == "" {
		return nil, domain.NewInvalidInputError("accessToken is required")
	}

	me, err := s.platform.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if me.UID == "" {
		return nil, domain.NewIdentityMismatchError("platform returned no user identity")
	}

	if err := s.repo.LinkWallet(ctx, userID, me.UID); err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeIdentityMismatch) {
			s.securityEvent(ctx, domain.SecurityIdentityMismatch, apiOrigin(userID, "", ""), nil, "", userID, map[string]any{
				"wallet_uid": me.UID,
				"reason":     err.Error(),
			})
		}
		return nil, err
	}

	s.logger.Info("wallet linked", "user_id", userID, "wallet_uid", me.UID)
	return s.repo.FindUser(ctx, userID)
}
