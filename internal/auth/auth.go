package auth

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"chat-runner/pkg/validation"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const UserContextKey contextKey = "user"

// Identity is the authenticated caller attached to the request context
type Identity struct {
	UserID   string
	Username string
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handlers serves login and registration and guards the protected routes
type Handlers struct {
	db        db.Database
	cfg       config.AuthConfig
	validator *validation.AuthRequestValidator
	now       func() time.Time
}

// NewHandlers creates auth handlers signing tokens with cfg.JWTSecret
func NewHandlers(database db.Database, cfg config.AuthConfig) *Handlers {
	if cfg.TokenExpiration <= 0 {
		cfg.TokenExpiration = 24 * time.Hour
	}
	return &Handlers{
		db:        database,
		cfg:       cfg,
		validator: validation.NewAuthRequestValidator(),
		now:       time.Now,
	}
}

// UserFromContext returns the identity set by Middleware
func UserFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(UserContextKey).(Identity)
	return id, ok
}

// WithUser attaches an identity to ctx
func WithUser(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, UserContextKey, id)
}

// SendError sends a standardized JSON error response
func SendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// GenerateToken issues a signed token whose subject is the user id
func (h *Handlers) GenerateToken(user *db.User) (string, error) {
	now := h.now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(h.cfg.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.cfg.JWTSecret)
}

// ValidateToken parses and verifies a token signed with HS256
func (h *Handlers) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return h.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// LoginHandler authenticates user and returns JWT token
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.validator.ValidateLoginRequest(req.Username, req.Password); err != nil {
		SendError(w, http.StatusBadRequest, "Username and password are required", err)
		return
	}

	fields := logrus.Fields{"username": req.Username}

	user, err := h.db.GetUserByUsername(req.Username)
	if err != nil {
		logger.Log.WithFields(fields).Warn("Login failed: user not found")
		SendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if !user.VerifyPassword(req.Password) {
		logger.Log.WithFields(fields).Warn("Login failed: invalid password")
		SendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.GenerateToken(user)
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Error("Error generating token")
		SendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	logger.Log.WithFields(fields).Info("User logged in")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

// RegisterHandler creates a new user account
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.validator.ValidateRegisterRequest(req.Username, req.Email, req.Password); err != nil {
		SendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	fields := logrus.Fields{"username": req.Username}

	user, err := h.db.CreateUser(req.Username, req.Email, req.Password)
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Registration failed")
		if errors.Is(err, db.ErrUserExists) {
			SendError(w, http.StatusConflict, "Username already exists", err)
			return
		}
		SendError(w, http.StatusInternalServerError, "Error creating user", err)
		return
	}

	token, err := h.GenerateToken(user)
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Error("Error generating token")
		SendError(w, http.StatusInternalServerError, "Error generating token", err)
		return
	}

	logger.Log.WithFields(fields).Info("User registered")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RegisterResponse{
		Message: "User registered successfully",
		Token:   token,
	})
}

// Middleware rejects requests without a valid bearer token and attaches the
// caller's identity to the request context
func (h *Handlers) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			SendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			SendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := h.ValidateToken(bearerToken[1])
		if err != nil {
			SendError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		ctx := WithUser(r.Context(), Identity{UserID: claims.Subject, Username: claims.Username})
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
