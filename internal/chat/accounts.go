package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/storage"
)

// Credentials is the registration and login input
type Credentials struct {
	Name     string `validate:"omitempty,max=64"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=6,max=72"`
}

// Session is an authenticated user with the token proving it
type Session struct {
	User  storage.User
	Token string
}

// dummyHash is compared against when the email is unknown, so that login takes
// the same time whether the account exists or not
var dummyHash = sync.OnceValues(func() (string, error) {
	return auth.HashPassword("dummy password of no account")
})

// Accounts registers users and resolves tokens into identities
type Accounts struct {
	logger   *zap.SugaredLogger
	gw       storage.Gateway
	tokens   *auth.Tokens
	validate *validator.Validate
	compare  func(password, hash string) (bool, error)
}

func NewAccounts(logger *zap.SugaredLogger, gw storage.Gateway, tokens *auth.Tokens) *Accounts {
	return &Accounts{
		logger:   logger,
		gw:       gw,
		tokens:   tokens,
		validate: validator.New(),
		compare:  auth.ComparePassword,
	}
}

func (a *Accounts) Register(ctx context.Context, c Credentials) (Session, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Name == "" {
		return Session{}, newError(ErrInvalidInput, "Name, email, and password are required")
	}
	if err := a.validate.Struct(c); err != nil {
		return Session{}, newError(ErrInvalidInput, validationMessage(err))
	}

	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return Session{}, err
	}

	u, err := a.gw.CreateUser(ctx, c.Name, c.Email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailExists) {
			return Session{}, newError(ErrConflict, "User with this email already exists")
		}
		return Session{}, transient("create user", err)
	}

	a.logger.Infof("Registered user (id: %d)", u.ID)

	return a.session(u)
}

func (a *Accounts) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, newError(ErrInvalidInput, "Email and password are required")
	}

	u, err := a.gw.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			if hash, err := dummyHash(); err == nil {
				a.compare(password, hash)
			}
			return Session{}, newError(ErrUnauthenticated, "Invalid email or password")
		}
		return Session{}, transient("find user", err)
	}

	ok, err := a.compare(password, u.PasswordHash)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, newError(ErrUnauthenticated, "Invalid email or password")
	}

	return a.session(u)
}

// Resolve returns user the token was issued for
func (a *Accounts) Resolve(ctx context.Context, token string) (storage.User, error) {
	if token == "" {
		return storage.User{}, newError(ErrUnauthenticated, "Unauthorized")
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		return storage.User{}, newError(ErrUnauthenticated, "Unauthorized")
	}
	id, _ := claims.UserID()

	u, err := a.gw.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return storage.User{}, newError(ErrUnauthenticated, "Unauthorized")
		}
		return storage.User{}, transient("find user", err)
	}

	return u, nil
}

func (a *Accounts) session(u storage.User) (Session, error) {
	token, err := a.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token}, nil
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "Invalid input"
	}

	switch errs[0].Field() {
	case "Email":
		return "Email must be a valid address"
	case "Password":
		return "Password must be between 6 and 72 characters"
	default:
		return "Name must be at most 64 characters"
	}
}
