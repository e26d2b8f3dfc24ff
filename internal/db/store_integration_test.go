//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("pawkeeper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter())
	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, logger)
	if err != nil {
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	pgContainer.Terminate(ctx)

	os.Exit(code)
}

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB returns the shared test database after cleaning all tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"device_states", "subscriptions", "trials", "identities"} {
		_, err := testDB.Pool.Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return testDB
}

func createTestIdentity(t *testing.T, database *DB) *models.Identity {
	t.Helper()
	identity := &models.Identity{
		ID:             uuid.New(),
		Email:          fmt.Sprintf("%s@example.com", uuid.New().String()[:8]),
		CredentialHash: uuid.New().String(),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, database.CreateIdentity(context.Background(), identity))
	return identity
}

func TestIdentityLookup(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	identity := createTestIdentity(t, database)

	found, err := database.GetIdentityByCredentialHash(ctx, identity.CredentialHash)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, found.ID)
	assert.Equal(t, identity.Email, found.Email)

	_, err = database.GetIdentityByCredentialHash(ctx, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrialFirstWriterWins(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	identity := createTestIdentity(t, database)
	now := time.Now().UTC()

	trial := NewTrial(identity.ID, "device-abc", now, 7*24*time.Hour)
	require.NoError(t, database.CreateTrial(ctx, trial))

	// Same identity, different device: identity constraint fires.
	dup := NewTrial(identity.ID, "device-xyz", now, 7*24*time.Hour)
	assert.ErrorIs(t, database.CreateTrial(ctx, dup), ErrTrialExists)

	// Different identity, same device: device constraint fires.
	other := createTestIdentity(t, database)
	reuse := NewTrial(other.ID, "device-abc", now, 7*24*time.Hour)
	assert.ErrorIs(t, database.CreateTrial(ctx, reuse), ErrTrialExists)

	// The winner's record is intact and retrievable both ways.
	byIdentity, err := database.GetTrialByIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, trial.ID, byIdentity.ID)

	byDevice, err := database.GetTrialByDevice(ctx, "device-abc")
	require.NoError(t, err)
	assert.Equal(t, trial.ID, byDevice.ID)
}

func TestExpireTrials(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	expired := createTestIdentity(t, database)
	current := createTestIdentity(t, database)

	old := NewTrial(expired.ID, "device-old", time.Now().UTC().Add(-10*24*time.Hour), 7*24*time.Hour)
	require.NoError(t, database.CreateTrial(ctx, old))

	fresh := NewTrial(current.ID, "device-new", time.Now().UTC(), 7*24*time.Hour)
	require.NoError(t, database.CreateTrial(ctx, fresh))

	swept, err := database.ExpireTrials(ctx)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, old.ID, swept[0].ID)
	assert.Equal(t, "device-old", swept[0].DeviceFingerprint)

	got, err := database.GetTrialByIdentity(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrialExpired, got.Status)

	got, err = database.GetTrialByIdentity(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrialActive, got.Status)
}

func TestSubscriptionLifecycle(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	identity := createTestIdentity(t, database)

	history, err := database.HasPurchaseHistory(ctx, identity.ID)
	require.NoError(t, err)
	assert.False(t, history)

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:            uuid.New(),
		IdentityID:    identity.ID,
		ProductID:     "com.pawkeeper.premium.monthly",
		PurchaseToken: "token-1",
		Status:        models.SubscriptionActive,
		StartedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, database.UpsertSubscription(ctx, sub))

	active, err := database.ActiveSubscription(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.PurchaseToken, active.PurchaseToken)

	history, err = database.HasPurchaseHistory(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, history)

	// Re-verification of the same token moves the expiry, no duplicate row.
	sub.ExpiresAt = now.Add(60 * 24 * time.Hour)
	require.NoError(t, database.UpsertSubscription(ctx, sub))

	active, err = database.ActiveSubscription(ctx, identity.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, sub.ExpiresAt, active.ExpiresAt, time.Second)

	// Expired subscription: no active row, history remains.
	sub.Status = models.SubscriptionExpired
	require.NoError(t, database.UpsertSubscription(ctx, sub))

	_, err = database.ActiveSubscription(ctx, identity.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err = database.HasPurchaseHistory(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, history)
}

func TestDeviceStateUpsertAndPrune(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	identity := createTestIdentity(t, database)
	now := time.Now().UTC()

	state := &models.DeviceState{
		ID:                uuid.New(),
		IdentityID:        identity.ID,
		DeviceFingerprint: "device-abc",
		Status:            "trial",
		ReportedAt:        now,
	}
	require.NoError(t, database.UpsertDeviceState(ctx, state))

	// Later report from the same device replaces the row.
	state.ID = uuid.New()
	state.Status = "subscribed"
	state.ReportedAt = now.Add(time.Hour)
	require.NoError(t, database.UpsertDeviceState(ctx, state))

	states, err := database.ListDeviceStates(ctx, identity.ID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "subscribed", states[0].Status)

	pruned, err := database.PruneDeviceStates(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}
