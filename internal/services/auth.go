package services

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/repos"
	"github.com/yungbote/minirag-backend/internal/requestdata"
	"github.com/yungbote/minirag-backend/internal/types"
)

// AuthService owns account creation and stateless JWT sessions. Tokens are
// HS256 with the user id as subject; nothing is stored server-side, so
// logout is simply the client dropping the token.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*types.User, error)
	Login(ctx context.Context, email, password string) (string, *types.User, error)
	CurrentUser(ctx context.Context) (*types.User, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	AccessTTL() time.Duration
}

type JWTClaims struct {
	jwt.RegisteredClaims
}

type authService struct {
	db           *gorm.DB
	log          *logger.Logger
	userRepo     repos.UserRepo
	jwtSecretKey string
	accessTTL    time.Duration
}

func NewAuthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	jwtSecretKey string,
	accessTTL time.Duration,
) AuthService {
	serviceLog := baseLog.With("service", "AuthService")
	return &authService{
		db:           db,
		log:          serviceLog,
		userRepo:     userRepo,
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
	}
}

const minPasswordLength = 8

func (as *authService) Register(ctx context.Context, email, password string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apierr.InvalidInput(fmt.Errorf("invalid email address"))
	}
	if len(password) < minPasswordLength {
		return nil, apierr.InvalidInput(fmt.Errorf("password must be at least %d characters", minPasswordLength))
	}

	exists, err := as.userRepo.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("check email: %w", err))
	}
	if exists {
		return nil, apierr.InvalidInput(fmt.Errorf("email already registered"))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("hash password: %w", err))
	}

	user := &types.User{
		Email:          email,
		HashedPassword: string(hashed),
		IsActive:       true,
	}
	if _, err := as.userRepo.Create(ctx, nil, []*types.User{user}); err != nil {
		// A register race on the same email loses to the unique index.
		return nil, apierr.InvalidInput(fmt.Errorf("email already registered"))
	}

	as.log.Info("User registered", "user_id", user.UserID)
	return user, nil
}

func (as *authService) Login(ctx context.Context, email, password string) (string, *types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return "", nil, apierr.Internal(fmt.Errorf("fetch user: %w", err))
	}
	if user == nil || !user.IsActive {
		return "", nil, apierr.Unauthorized(fmt.Errorf("incorrect email or password"))
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return "", nil, apierr.Unauthorized(fmt.Errorf("incorrect email or password"))
	}

	token, err := as.generateAccessToken(user)
	if err != nil {
		return "", nil, apierr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return token, user, nil
}

func (as *authService) CurrentUser(ctx context.Context) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == 0 {
		return nil, apierr.Unauthorized(fmt.Errorf("not authenticated"))
	}
	user, err := as.userRepo.GetByID(ctx, nil, rd.UserID)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("fetch user: %w", err))
	}
	if user == nil || !user.IsActive {
		return nil, apierr.Unauthorized(fmt.Errorf("account disabled"))
	}
	return user, nil
}

func (as *authService) generateAccessToken(user *types.User) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(user.UserID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, apierr.Unauthorized(fmt.Errorf("missing token"))
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		return ctx, apierr.Unauthorized(fmt.Errorf("invalid token: %w", err))
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, apierr.Unauthorized(fmt.Errorf("invalid or expired token"))
	}
	userID, err := strconv.Atoi(claims.Subject)
	if err != nil || userID <= 0 {
		return ctx, apierr.Unauthorized(fmt.Errorf("invalid subject in token"))
	}

	rd := &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) AccessTTL() time.Duration {
	return as.accessTTL
}
