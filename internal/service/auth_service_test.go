package service_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/admissions-auth/internal/auth"
	"github.com/spec-kit/admissions-auth/internal/config"
	"github.com/spec-kit/admissions-auth/internal/domain"
	"github.com/spec-kit/admissions-auth/internal/events"
	"github.com/spec-kit/admissions-auth/internal/service"
	apperrors "github.com/spec-kit/admissions-auth/pkg/util"
)

// memTokenStore is an in-memory TokenStore standing in for Redis.
type memTokenStore struct {
	mu      sync.Mutex
	records map[string]*domain.TokenRecord
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{records: make(map[string]*domain.TokenRecord)}
}

func (s *memTokenStore) Save(_ context.Context, record *domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records[record.Token] = &cp
	return nil
}

func (s *memTokenStore) FindByValue(_ context.Context, token string) (*domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memTokenStore) BlacklistByValue(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	if !ok || rec.Blacklisted {
		return false, nil
	}
	rec.Blacklisted = true
	return true, nil
}

func (s *memTokenStore) InvalidateFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.FamilyID == familyID {
			rec.Blacklisted = true
		}
	}
	return nil
}

func (s *memTokenStore) familyID(t *testing.T, token string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	require.True(t, ok, "shadow record missing for token")
	return rec.FamilyID
}

func (s *memTokenStore) isBlacklisted(t *testing.T, token string) bool {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	require.True(t, ok, "shadow record missing for token")
	return rec.Blacklisted
}

func (s *memTokenStore) familyFullyBlacklisted(familyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, rec := range s.records {
		if rec.FamilyID != familyID {
			continue
		}
		found = true
		if !rec.Blacklisted {
			return false
		}
	}
	return found
}

// memAccountRepo is an in-memory AccountRepository. Create holds the lock
// across check and insert, matching the advisory-lock contract of the
// Postgres implementation.
type memAccountRepo struct {
	mu      sync.Mutex
	byEmail map[string]*domain.Account
	byID    map[string]*domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		byEmail: make(map[string]*domain.Account),
		byID:    make(map[string]*domain.Account),
	}
}

func (r *memAccountRepo) Create(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[account.Email]; exists {
		return apperrors.NewEntityExists("account already registered")
	}
	account.ID = uuid.NewString()
	r.byEmail[account.Email] = account
	r.byID[account.ID] = account
	return nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return account, nil
}

func (r *memAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return account, nil
}

func (r *memAccountRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	account.PasswordHash = passwordHash
	return nil
}

func newTestAuthService(t *testing.T) (*service.AuthService, *memAccountRepo, *memTokenStore) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := auth.NewKeyStore(key)

	cfg := config.Config{Auth: config.AuthConfig{
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "7d",
		BcryptCost:      4,
	}}

	accounts := newMemAccountRepo()
	tokens := newMemTokenStore()
	logger := zap.NewNop()

	svc := service.NewAuthService(cfg, service.AuthDependencies{
		Accounts:   accounts,
		Tokens:     tokens,
		Issuer:     auth.NewIssuer(keys, tokens, cfg.Auth, logger),
		Verifier:   auth.NewVerifier(keys, tokens, logger),
		Dispatcher: events.NewInMemoryDispatcher(logger),
		Logger:     logger,
	})
	return svc, accounts, tokens
}

func registerAlice(t *testing.T, svc *service.AuthService) *service.TokenPair {
	t.Helper()
	pair, err := svc.Register(context.Background(), "Alice", "alice@x.com", "correct-horse")
	require.NoError(t, err)
	return pair
}

func TestLoginIssuesFreshFamilyEachCall(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	registerAlice(t, svc)

	first, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.NoError(t, err)

	assert.NotEmpty(t, first.AccessToken)
	assert.NotEmpty(t, first.RefreshToken)
	assert.Equal(t, "alice@x.com", first.Account.Email)
	assert.Greater(t, first.ExpiresIn, int64(0))

	// Access and refresh of one login share a family; separate logins do not.
	assert.Equal(t, tokens.familyID(t, first.AccessToken), tokens.familyID(t, first.RefreshToken))
	assert.NotEqual(t, tokens.familyID(t, first.AccessToken), tokens.familyID(t, second.AccessToken))
}

func TestLoginBadCredentialsAreGeneric(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAuthService(t)
	registerAlice(t, svc)

	_, wrongPassword := svc.Login(ctx, "alice@x.com", "wrong")
	_, unknownEmail := svc.Login(ctx, "nobody@x.com", "whatever")

	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.True(t, apperrors.HasCode(wrongPassword, apperrors.CodeBadCredentials))
	assert.True(t, apperrors.HasCode(unknownEmail, apperrors.CodeBadCredentials))
	// Identical messages: the caller cannot probe which emails exist.
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLoginInactiveAccountDenied(t *testing.T) {
	ctx := context.Background()
	svc, accounts, _ := newTestAuthService(t)
	pair := registerAlice(t, svc)

	accounts.byID[pair.Account.ID].AccountNonLocked = false

	_, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAccessDenied))
}

func TestRefreshRotatesWithinSameFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)
	familyID := tokens.familyID(t, pair.RefreshToken)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, familyID, tokens.familyID(t, rotated.AccessToken))
	assert.Equal(t, familyID, tokens.familyID(t, rotated.RefreshToken))
	assert.True(t, tokens.isBlacklisted(t, pair.RefreshToken))
	assert.False(t, tokens.isBlacklisted(t, rotated.RefreshToken))
}

func TestRefreshReuseRevokesWholeFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)
	familyID := tokens.familyID(t, pair.RefreshToken)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Second use of the consumed refresh token is treated as theft.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenReused))
	assert.True(t, tokens.familyFullyBlacklisted(familyID))

	// Even the second round's tokens are dead now.
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenReused))
}

func TestRefreshUnknownTokenHasNoFamilyToRevoke(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAuthService(t)

	_, err := svc.Refresh(ctx, "never-issued")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenInvalid))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)

	_, err := svc.Refresh(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTokenInvalid))
	// Presenting the wrong token kind is not reuse evidence.
	assert.False(t, tokens.isBlacklisted(t, pair.RefreshToken))
}

func TestRefreshInactiveAccountRevokesFamily(t *testing.T) {
	ctx := context.Background()
	svc, accounts, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)
	familyID := tokens.familyID(t, pair.RefreshToken)

	accounts.byID[pair.Account.ID].Enabled = false

	_, err := svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAccessDenied))
	assert.True(t, tokens.familyFullyBlacklisted(familyID))
}

func TestRefreshDoesNotTouchOtherFamilies(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	registerAlice(t, svc)

	bobPair, err := svc.Register(ctx, "Bob", "bob@x.com", "pw-bob-123")
	require.NoError(t, err)

	alicePair, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.NoError(t, err)
	aliceFamily := tokens.familyID(t, alicePair.RefreshToken)

	// Burn Alice's refresh token twice to trigger family revocation.
	_, err = svc.Refresh(ctx, alicePair.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, alicePair.RefreshToken)
	require.Error(t, err)
	require.True(t, tokens.familyFullyBlacklisted(aliceFamily))

	// Bob's family is untouched.
	assert.False(t, tokens.isBlacklisted(t, bobPair.AccessToken))
	assert.False(t, tokens.isBlacklisted(t, bobPair.RefreshToken))
}

func TestLogoutRevokesPair(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken, pair.RefreshToken))
	assert.True(t, tokens.isBlacklisted(t, pair.AccessToken))
	assert.True(t, tokens.isBlacklisted(t, pair.RefreshToken))
}

func TestLogoutIgnoresRefreshFromOtherFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	registerAlice(t, svc)

	session1, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.NoError(t, err)
	session2, err := svc.Login(ctx, "alice@x.com", "correct-horse")
	require.NoError(t, err)

	// Refresh token from another session: only the access token dies.
	require.NoError(t, svc.Logout(ctx, session1.AccessToken, session2.RefreshToken))
	assert.True(t, tokens.isBlacklisted(t, session1.AccessToken))
	assert.False(t, tokens.isBlacklisted(t, session2.RefreshToken))
}

func TestLogoutUnknownAccessTokenFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAuthService(t)

	err := svc.Logout(ctx, "never-issued", "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEntityNotFound))
}

func TestConcurrentRegistrationYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAuthService(t)

	const attempts = 2
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, "Bob", "bob@x.com", "pw-bob-123")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case apperrors.HasCode(err, apperrors.CodeEntityExists):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

func TestChangePasswordRevokesCurrentFamily(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)
	familyID := tokens.familyID(t, pair.AccessToken)

	err := svc.ChangePassword(ctx, pair.Account.ID, pair.AccessToken, "correct-horse", "battery-staple")
	require.NoError(t, err)
	assert.True(t, tokens.familyFullyBlacklisted(familyID))

	_, err = svc.Login(ctx, "alice@x.com", "correct-horse")
	require.Error(t, err)
	_, err = svc.Login(ctx, "alice@x.com", "battery-staple")
	require.NoError(t, err)
}

func TestChangePasswordWrongCurrentPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, tokens := newTestAuthService(t)
	pair := registerAlice(t, svc)

	err := svc.ChangePassword(ctx, pair.Account.ID, pair.AccessToken, "wrong", "battery-staple")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadCredentials))
	assert.False(t, tokens.isBlacklisted(t, pair.AccessToken))
}
