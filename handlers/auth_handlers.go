package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"craftshop/storefront/logging"
	"craftshop/storefront/middleware"
	"craftshop/storefront/models"
	"craftshop/storefront/store"
)

// UserRepository is the account storage the auth handlers need.
type UserRepository interface {
	CreateUser(ctx context.Context, req models.SignupRequest, hashedPassword []byte) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
}

// TokenIssuer mints customer session tokens.
type TokenIssuer interface {
	GenerateJWT(user *models.User) (string, error)
	TTL() time.Duration
}

type AuthHandlers struct {
	Users  UserRepository
	Tokens TokenIssuer

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool

	cost   int
	logger zerolog.Logger
}

func NewAuthHandlers(users UserRepository, tokens TokenIssuer) *AuthHandlers {
	return &AuthHandlers{
		Users:  users,
		Tokens: tokens,
		cost:   bcrypt.DefaultCost,
		logger: logging.Component("auth"),
	}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.Users.CreateUser(c.Request.Context(), req, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}
		h.logger.Error().Err(err).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	h.logger.Info().Int("user_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": user})
}

// Login checks credentials and sets the session cookie. The user record in
// the response is what the storefront caches under its "user" key.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.Users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			h.logger.Error().Err(err).Msg("user lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check credentials"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		h.logger.Debug().Int("user_id", user.ID).Msg("password mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(user)
	if err != nil {
		h.logger.Error().Err(err).Int("user_id", user.ID).Msg("failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, tokenString, int(h.Tokens.TTL()/time.Second), "/", "", h.SecureCookie, true)

	h.logger.Info().Int("user_id", user.ID).Msg("user logged in")
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "user": user})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the account behind the session token.
func (h *AuthHandlers) Me(c *gin.Context) {
	userID := c.GetInt(middleware.ContextUserID)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: customer token required"})
		return
	}

	user, err := h.Users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error().Err(err).Int("user_id", userID).Msg("user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
