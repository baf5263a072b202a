package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchain/internal/broadcast"
	"rentchain/internal/models"
)

func TestReconcileCorrectsDrift(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	coordinator, store := newTestCoordinator(t, &fakeBroadcaster{}, reader)
	seedListing(t, store, models.StatusAvailable)

	listing, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusOccupied, listing.Status, "chain truth wins over the stored projection")
	assert.True(t, listing.LastKnownChainActive)
	assert.False(t, listing.NeedsReconcile)
	require.NotNil(t, listing.LastReconciledAt)

	stored, err := store.GetListing(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOccupied, stored.Status)
}

func TestReconcileTerminatedOnChain(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsTerminated: true}}
	coordinator, store := newTestCoordinator(t, &fakeBroadcaster{}, reader)
	seedListing(t, store, models.StatusOccupied)

	listing, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, listing.Status)
	assert.True(t, listing.LastKnownChainTerminated)
}

func TestReconcileIsIdempotent(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	coordinator, _ := newTestCoordinator(t, &fakeBroadcaster{}, reader)
	seedListing(t, coordinator.store, models.StatusOccupied)

	first, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)

	second, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status, "a second pass with unchanged chain state is a no-op")
}

func TestReconcileSkipsUndeployedListing(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	coordinator, store := newTestCoordinator(t, &fakeBroadcaster{}, reader)

	listing := seedListing(t, store, models.StatusAvailable)
	listing.ContractAddress = nil
	require.NoError(t, store.UpdateListing(context.Background(), listing))

	_, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, 0, reader.calls, "nothing on chain to compare against")
}

func TestReconcileNeverReopensTerminated(t *testing.T) {
	// Even a chain view claiming active must not resurrect a terminated listing
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	coordinator, store := newTestCoordinator(t, &fakeBroadcaster{}, reader)
	seedListing(t, store, models.StatusTerminated)

	listing, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, listing.Status)
	assert.Equal(t, 0, reader.calls)
}

func TestReconcileAfterTimedOutActivation(t *testing.T) {
	queue := &fakeBroadcaster{outcome: broadcast.Outcome{State: models.TxTimedOut}}
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	coordinator, store := newTestCoordinator(t, queue, reader)
	seedListing(t, store, models.StatusAvailable)

	_, err := coordinator.Activate(context.Background(), "listing-1")
	require.Error(t, err)

	// The transaction landed after the wait was abandoned; reconciliation
	// observes it and advances the projection without a second submission
	listing, err := coordinator.Reconcile(context.Background(), "listing-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOccupied, listing.Status)
	assert.False(t, listing.NeedsReconcile)
	assert.Equal(t, 1, queue.enqueueCount(), "reconciliation must never submit transactions")
}
