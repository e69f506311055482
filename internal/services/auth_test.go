package services

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/types"
)

func newAuthFixture(t *testing.T, users ...*types.User) (*authService, *fakeUserRepo) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	userRepo := newFakeUserRepo(users...)
	svc := &authService{
		log:          log,
		userRepo:     userRepo,
		jwtSecretKey: "test-secret",
		accessTTL:    time.Hour,
	}
	return svc, userRepo
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc, _ := newAuthFixture(t)

	registered, err := svc.Register(context.Background(), "User@Example.com", "longenough")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if registered.Email != "user@example.com" {
		t.Fatalf("email must normalize to lower case, got %q", registered.Email)
	}
	if registered.UserID == 0 || !registered.IsActive {
		t.Fatalf("registered user: got %+v", registered)
	}
	if registered.HashedPassword == "longenough" {
		t.Fatalf("password must not be stored in the clear")
	}

	token, loggedIn, err := svc.Login(context.Background(), "user@example.com", "longenough")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || loggedIn.UserID != registered.UserID {
		t.Fatalf("login result: token=%q user=%+v", token, loggedIn)
	}

	ctx, err := svc.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	current, err := svc.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if current.UserID != registered.UserID {
		t.Fatalf("current user: want=%d got=%d", registered.UserID, current.UserID)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, userRepo := newAuthFixture(t)

	if _, err := svc.Register(context.Background(), "not-an-email", "longenough"); apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("bad email: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}
	if _, err := svc.Register(context.Background(), "a@b.com", "short"); apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("short password: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}
	if userRepo.createCalls != 0 {
		t.Fatalf("no user may be created, got %d calls", userRepo.createCalls)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newAuthFixture(t, &types.User{
		UserID: 1, Email: "taken@example.com", HashedPassword: "x", IsActive: true,
	})

	_, err := svc.Register(context.Background(), "Taken@example.com", "longenough")
	if apierr.CodeOf(err) != apierr.CodeInvalidInput {
		t.Fatalf("code: want=%q got=%q", apierr.CodeInvalidInput, apierr.CodeOf(err))
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("rightpassword"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	svc, _ := newAuthFixture(t,
		&types.User{UserID: 1, Email: "active@example.com", HashedPassword: string(hashed), IsActive: true},
		&types.User{UserID: 2, Email: "disabled@example.com", HashedPassword: string(hashed), IsActive: false},
	)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "active@example.com", "wrongpassword"},
		{"unknown email", "nobody@example.com", "rightpassword"},
		{"inactive account", "disabled@example.com", "rightpassword"},
	}
	for _, tc := range cases {
		if _, _, err := svc.Login(context.Background(), tc.email, tc.password); apierr.CodeOf(err) != apierr.CodeUnauthorized {
			t.Fatalf("%s: want=%q got=%q", tc.name, apierr.CodeUnauthorized, apierr.CodeOf(err))
		}
	}
}

func TestSetContextFromTokenRejectsForgedToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	other := &authService{log: svc.log, userRepo: svc.userRepo, jwtSecretKey: "other-secret", accessTTL: time.Hour}

	forged, err := other.generateAccessToken(&types.User{UserID: 1})
	if err != nil {
		t.Fatalf("generateAccessToken: %v", err)
	}
	if _, err := svc.SetContextFromToken(context.Background(), forged); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("forged token: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
	if _, err := svc.SetContextFromToken(context.Background(), ""); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("empty token: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
	if _, err := svc.SetContextFromToken(context.Background(), "not.a.jwt"); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("garbage token: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
}

func TestSetContextFromTokenRejectsExpiredToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	svc.accessTTL = -time.Hour

	expired, err := svc.generateAccessToken(&types.User{UserID: 1})
	if err != nil {
		t.Fatalf("generateAccessToken: %v", err)
	}
	if _, err := svc.SetContextFromToken(context.Background(), expired); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("expired token: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
}

func TestCurrentUserRequiresAuthenticatedContext(t *testing.T) {
	svc, _ := newAuthFixture(t)

	if _, err := svc.CurrentUser(context.Background()); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("bare context: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
}

func TestCurrentUserRejectsDisabledAccount(t *testing.T) {
	user := &types.User{UserID: 1, Email: "u@example.com", HashedPassword: "x", IsActive: true}
	svc, _ := newAuthFixture(t, user)

	token, err := svc.generateAccessToken(user)
	if err != nil {
		t.Fatalf("generateAccessToken: %v", err)
	}
	ctx, err := svc.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}

	user.IsActive = false
	if _, err := svc.CurrentUser(ctx); apierr.CodeOf(err) != apierr.CodeUnauthorized {
		t.Fatalf("disabled account: want=%q got=%q", apierr.CodeUnauthorized, apierr.CodeOf(err))
	}
}
