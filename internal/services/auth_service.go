package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/utils"
)

var (
	// ErrNoToken is returned when a request carries no bearer credential.
	ErrNoToken = newError(KindUnauthorized, "Not authorized, no token")
	// ErrTokenFailed is returned when the bearer credential cannot be verified.
	ErrTokenFailed = newError(KindUnauthorized, "Not authorized, token failed")

	errNotAdmin          = newError(KindForbidden, "Not authorized as an admin")
	errInvalidCredential = newError(KindUnauthorized, "Invalid email or password")
	errInvalidUserData   = newError(KindValidation, "Invalid user data")
	errUserExists        = newError(KindAlreadyExists, "User already exists")
)

// dummyPasswordHash is compared against on unknown emails so that both login
// failures cost one bcrypt comparison.
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := utils.UnusablePasswordHash()
	if err != nil {
		panic(err)
	}
	return hash
})

// AuthService resolves callers from bearer credentials and issues session
// tokens for password logins.
type AuthService struct {
	db              *gorm.DB
	verifier        IdentityVerifier
	jwtSecret       string
	tokenTTL        time.Duration
	identityTimeout time.Duration
	log             logrus.FieldLogger
	checkPassword   func(hash, password string) bool
}

// NewAuthService constructs an AuthService. verifier may be nil, in which
// case only session tokens are accepted.
func NewAuthService(db *gorm.DB, verifier IdentityVerifier, jwtSecret string, tokenTTL, identityTimeout time.Duration, log logrus.FieldLogger) *AuthService {
	return &AuthService{
		db:              db,
		verifier:        verifier,
		jwtSecret:       jwtSecret,
		tokenTTL:        tokenTTL,
		identityTimeout: identityTimeout,
		log:             log.WithField("component", "auth"),
		checkPassword:   utils.CheckPassword,
	}
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Authenticate resolves the caller for token. Session tokens issued by Login
// and Register are tried first; anything else goes to the federated verifier,
// and a verified identity seen for the first time gets a local account.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	if userID, err := utils.ParseToken(s.jwtSecret, token); err == nil {
		var user models.User
		if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTokenFailed
			}
			return nil, err
		}
		return &user, nil
	}

	if s.verifier == nil {
		return nil, ErrTokenFailed
	}

	vctx := ctx
	if s.identityTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, s.identityTimeout)
		defer cancel()
	}

	identity, err := s.verifier.Verify(vctx, token)
	if err != nil {
		if isTimeout(err) {
			s.log.WithError(err).Error("identity provider timed out")
			return nil, wrapError(KindGatewayTimeout, "Identity provider timed out", err)
		}
		s.log.WithError(err).Debug("federated token rejected")
		return nil, wrapError(KindUnauthorized, ErrTokenFailed.Message, err)
	}

	return s.findOrCreateFederated(ctx, identity)
}

// findOrCreateFederated returns the account for the identity's email,
// creating it when absent. Concurrent first logins converge on one row
// through the unique email index.
func (s *AuthService) findOrCreateFederated(ctx context.Context, identity *VerifiedIdentity) (*models.User, error) {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return nil, ErrTokenFailed
	}

	user, err := s.userByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := utils.UnusablePasswordHash()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(identity.DisplayName)
	if name == "" {
		name = email
	}

	candidate := models.User{Name: name, Email: email, PasswordHash: hash}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&candidate)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.WithFields(logrus.Fields{"user_id": candidate.ID, "email": email}).Info("federated account created")
	}

	user, err = s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AuthResult is returned by Login and Register.
type AuthResult struct {
	User  *models.User
	Token string
}

// Login checks the password and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errInvalidCredential
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.checkPassword(dummyPasswordHash(), password)
			return nil, errInvalidCredential
		}
		return nil, err
	}
	if !s.checkPassword(user.PasswordHash, password) {
		return nil, errInvalidCredential
	}

	return s.issue(user)
}

// Register creates a non-admin account and issues a session token.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return nil, errInvalidUserData
	}

	if _, err := s.userByEmail(ctx, email); err == nil {
		return nil, errUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errUserExists
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "email": email}).Info("user registered")
	return s.issue(&user)
}

// RequireAdmin fails unless user is an administrator.
func RequireAdmin(user *models.User) error {
	if user == nil || !user.IsAdmin {
		return errNotAdmin
	}
	return nil
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, err := utils.GenerateToken(s.jwtSecret, user.ID, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
