package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/auth"
	"github.com/dmitrijs2005/studyrent/internal/server/config"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type ModerationAction string

const (
	ActionBan    ModerationAction = "ban"
	ActionUnban  ModerationAction = "unban"
	ActionMute   ModerationAction = "mute"
	ActionUnmute ModerationAction = "unmute"
)

type UserService struct {
	store                        Store
	gate                         *access.Gate
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	bcryptCost                   int
	now                          func() time.Time
}

func NewUserService(store Store, gate *access.Gate, logger logging.Logger, cfg *config.Config) *UserService {
	return &UserService{
		store:                        store,
		gate:                         gate,
		logger:                       logger.With("module", "users"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		bcryptCost:                   bcrypt.DefaultCost,
		now:                          time.Now,
	}
}

// Register creates a self-service account. Admins are created with
// CreateAdmin only.
func (s *UserService) Register(ctx context.Context, email, password string, role models.Role) (*models.User, error) {
	if role != models.RoleStudent && role != models.RoleOwner {
		return nil, fmt.Errorf("%w: role must be student or owner", common.ErrValidation)
	}
	return s.create(ctx, email, password, role)
}

// CreateAdmin bootstraps an administrator account from the operator tool.
func (s *UserService) CreateAdmin(ctx context.Context, email, password string) (*models.User, error) {
	return s.create(ctx, email, password, models.RoleAdmin)
}

func (s *UserService) create(ctx context.Context, email, password string, role models.Role) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.Repos.Users(s.store.DB).Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.store.Repos.Users(s.store.DB).GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, common.ErrorUnauthorized
	}

	return s.generateTokenPair(ctx, s.store.DB, user)
}

// RefreshToken exchanges a refresh token for a new pair. The old token is
// deleted in the same transaction, so it can be used only once.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var tokenPair *TokenPair

	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.RefreshTokens(tx)

		token, err := repo.Find(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}

		deleted, err := repo.Delete(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		if !deleted {
			return common.ErrorUnauthorized
		}

		if token.ExpiredAt(s.now()) {
			return common.ErrRefreshTokenExpired
		}

		user, err := s.store.Repos.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("error loading user: %w", err)
		}

		tokenPair, err = s.generateTokenPair(ctx, tx, user)
		return err
	})
	// An expired token is still removed.
	if errors.Is(err, common.ErrRefreshTokenExpired) {
		_, _ = s.store.Repos.RefreshTokens(s.store.DB).Delete(ctx, refreshToken)
	}
	if err != nil {
		return nil, err
	}

	return tokenPair, nil
}

func (s *UserService) generateTokenPair(ctx context.Context, db dbx.DBTX, user *models.User) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(user.ID, user.Role, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}

	expires := s.now().Add(s.refreshTokenValidityDuration)
	if err := s.store.Repos.RefreshTokens(db).Create(ctx, user.ID, refreshToken, expires); err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Authenticate resolves a bearer token to the current user record, so that
// bans and role changes apply without waiting for the token to expire.
func (s *UserService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Repos.Users(s.store.DB).GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.store.Repos.Users(s.store.DB).GetByID(ctx, id)
}

// Moderate bans, unbans, mutes or unmutes userID. until is optional and
// only meaningful for ban and mute.
func (s *UserService) Moderate(ctx context.Context, caller *models.User, userID string, action ModerationAction, until *time.Time) (*models.User, error) {
	if err := s.gate.CanModerate(caller).Err("moderate users"); err != nil {
		return nil, err
	}
	if until != nil && !until.After(s.now()) {
		return nil, fmt.Errorf("%w: until must be in the future", common.ErrValidation)
	}

	var updated *models.User
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Users(tx)
		target, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		m := users.Moderation{
			IsBanned: target.IsBanned, BannedUntil: target.BannedUntil,
			IsMuted: target.IsMuted, MutedUntil: target.MutedUntil,
		}
		switch action {
		case ActionBan:
			m.IsBanned, m.BannedUntil = true, until
		case ActionUnban:
			m.IsBanned, m.BannedUntil = false, nil
		case ActionMute:
			m.IsMuted, m.MutedUntil = true, until
		case ActionUnmute:
			m.IsMuted, m.MutedUntil = false, nil
		default:
			return fmt.Errorf("%w: unknown moderation action %q", common.ErrValidation, action)
		}

		if err := repo.SetModeration(ctx, userID, m); err != nil {
			return err
		}
		updated, err = repo.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user moderated", "user_id", userID, "action", action, "admin_id", caller.ID)
	return updated, nil
}
