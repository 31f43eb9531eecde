package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

type mockAuthRepo struct {
	userByEmail         *models.User
	userByID            *models.User
	findByEmailErr      error
	findByIDErr         error
	createErr           error
	created             []*models.User
	refreshTokens       map[string]*models.RefreshToken
	refreshTokenErr     error
	createRefreshErr    error
	revokeRefreshErr    error
	revokeUserTokensErr error
	revokedUsers        []string
	updatePasswordErr   error
	resetHash           string
	resetExpiresAt      time.Time
	updatedRole         models.UserRole
	auditLogs           []*models.AuditLog
	lastLoginUpdated    bool
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, user)
	return nil
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if m.userByID != nil {
		return m.userByID, nil
	}
	if m.userByEmail != nil {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByResetTokenHash(ctx context.Context, hash string, now time.Time) (*models.User, error) {
	if m.resetHash == "" || m.resetHash != hash || !now.Before(m.resetExpiresAt) {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	m.resetHash = ""
	return nil
}

func (m *mockAuthRepo) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.resetHash = tokenHash
	m.resetExpiresAt = expiresAt
	return nil
}

func (m *mockAuthRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.updatedRole = role
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedUsers = append(m.revokedUsers, userID)
	return m.revokeUserTokensErr
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.refreshTokenErr != nil {
		return nil, m.refreshTokenErr
	}
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	if m.revokeRefreshErr != nil {
		return m.revokeRefreshErr
	}
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockMailer struct {
	sent []mailer.Message
	err  error
}

func (m *mockMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func newTestAuthService(repo *mockAuthRepo, mail mailer.Mailer) *AuthService {
	return NewAuthService(repo, mail, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: time.Hour * 24,
		BcryptCost:         bcrypt.MinCost,
		FrontendURL:        "http://localhost:3000/",
	})
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceRegister(t *testing.T) {
	repo := &mockAuthRepo{}
	svc := newTestAuthService(repo, &mockMailer{})

	res, err := svc.Register(context.Background(), models.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     " Ada@Example.com ",
		Password:  "secret1",
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)

	user := repo.created[0]
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.True(t, user.Active)
	assert.Equal(t, "en", user.Preferences.Language)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))
	assert.Equal(t, "Ada Lovelace", res.User.FullName)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	require.NotEmpty(t, repo.auditLogs)
	assert.Equal(t, models.AuditActionRegister, repo.auditLogs[0].Action)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "ada@example.com"}}
	svc := newTestAuthService(repo, &mockMailer{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestAuthServiceRegisterRaceOnInsert(t *testing.T) {
	repo := &mockAuthRepo{createErr: repository.ErrDuplicate}
	svc := newTestAuthService(repo, &mockMailer{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegisterRejectsAdminRole(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, &mockMailer{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1", Role: models.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: mustHash(t, "password"), Active: true, Role: models.RoleEducator}}
	svc := newTestAuthService(repo, &mockMailer{})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, repo.lastLoginUpdated)
	require.Contains(t, repo.refreshTokens, hashToken(res.RefreshToken))
	assert.NotContains(t, repo.refreshTokens, res.RefreshToken)
}

func TestAuthServiceLoginDoesNotRevealWhichCheckFailed(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: mustHash(t, "password"), Active: true}}
	svc := newTestAuthService(repo, &mockMailer{})

	_, wrongPassword := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "nope"})
	require.Error(t, wrongPassword)

	unknown := newTestAuthService(&mockAuthRepo{}, &mockMailer{})
	_, unknownEmail := unknown.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "password"})
	require.Error(t, unknownEmail)

	assert.Equal(t, appErrors.FromError(wrongPassword).Message, appErrors.FromError(unknownEmail).Message)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(unknownEmail).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: mustHash(t, "password"), Active: false}}
	svc := newTestAuthService(repo, &mockMailer{})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceAuthenticate(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", FirstName: "Grace", LastName: "Hopper", Active: true, Role: models.RoleStudent}
	repo := &mockAuthRepo{userByID: user}
	svc := newTestAuthService(repo, &mockMailer{})

	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	user.Role = models.RoleEducator
	claims, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleEducator, claims.Role)
	assert.True(t, repo.lastLoginUpdated)

	user.Active = false
	_, err = svc.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceAuthenticateMissingUser(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, &mockMailer{})
	token, _, err := svc.generateAccessToken(&models.User{ID: "gone"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: make(map[string]*models.RefreshToken)}
	user := &models.User{ID: "u1", Email: "user@example.com", PasswordHash: "hash", Active: true, Role: models.RoleStudent}
	repo.userByEmail = user
	repo.userByID = user
	token := &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: hashToken("token"), ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens[token.Token] = token

	svc := newTestAuthService(repo, &mockMailer{})

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, token.Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{
		hashToken("token"): {ID: "rt1", UserID: "other", Token: hashToken("token"), ExpiresAt: time.Now().Add(time.Hour)},
	}}
	svc := newTestAuthService(repo, &mockMailer{})

	err := svc.Logout(context.Background(), &models.JWTClaims{UserID: "u1"}, "token", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	oldHash := mustHash(t, "oldpass")
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: oldHash, Active: true}}
	svc := newTestAuthService(repo, &mockMailer{})

	err := svc.ChangePassword(context.Background(), &models.JWTClaims{UserID: "u1"}, models.ChangePasswordRequest{CurrentPassword: "oldpass", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
	assert.Equal(t, []string{"u1"}, repo.revokedUsers)
}

func TestAuthServiceChangePasswordWrongCurrent(t *testing.T) {
	oldHash := mustHash(t, "oldpass")
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", PasswordHash: oldHash, Active: true}}
	svc := newTestAuthService(repo, &mockMailer{})

	err := svc.ChangePassword(context.Background(), &models.JWTClaims{UserID: "u1"}, models.ChangePasswordRequest{CurrentPassword: "guess", NewPassword: "newpassword"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, oldHash, repo.userByEmail.PasswordHash)
}

func TestAuthServicePasswordResetFlow(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "user@example.com", FirstName: "Ada", PasswordHash: mustHash(t, "oldpass"), Active: true}}
	mail := &mockMailer{}
	svc := newTestAuthService(repo, mail)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "user@example.com"}))
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "user@example.com", mail.sent[0].ToEmail)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), repo.resetExpiresAt, 5*time.Second)

	const prefix = "http://localhost:3000/reset-password/"
	idx := strings.Index(mail.sent[0].PlainText, prefix)
	require.GreaterOrEqual(t, idx, 0)
	token := strings.Fields(mail.sent[0].PlainText[idx+len(prefix):])[0]
	assert.Equal(t, hashToken(token), repo.resetHash)

	require.NoError(t, svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: token, NewPassword: "brandnew"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.userByEmail.PasswordHash), []byte("brandnew")))
	assert.Contains(t, repo.revokedUsers, "u1")

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: token, NewPassword: "again12"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceForgotPasswordUnknownEmail(t *testing.T) {
	mail := &mockMailer{}
	svc := newTestAuthService(&mockAuthRepo{}, mail)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.com"}))
	assert.Empty(t, mail.sent)
}

func TestAuthServiceForgotPasswordMailFailureStillSucceeds(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "u1", Email: "user@example.com", Active: true}}
	svc := newTestAuthService(repo, &mockMailer{err: errors.New("smtp down")})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "user@example.com"}))
}

func TestAuthServiceSwitchRole(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleStudent}
	repo := &mockAuthRepo{userByID: user}
	svc := newTestAuthService(repo, &mockMailer{})

	res, err := svc.SwitchRole(context.Background(), &models.JWTClaims{UserID: "u1"}, models.SwitchRoleRequest{Role: models.RoleEducator})
	require.NoError(t, err)
	assert.Equal(t, models.RoleEducator, repo.updatedRole)
	assert.Equal(t, models.RoleEducator, res.User.Role)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEducator, claims.Role)

	_, err = svc.SwitchRole(context.Background(), &models.JWTClaims{UserID: "u1"}, models.SwitchRoleRequest{Role: models.RoleAdmin})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestValidateToken(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, &mockMailer{})
	user := &models.User{ID: "u1", Email: "user@example.com", Role: models.RoleAdmin}
	token, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	other := NewAuthService(&mockAuthRepo{}, &mockMailer{}, nil, nil, AuthConfig{AccessTokenSecret: "different", AccessTokenExpiry: time.Hour})
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}
