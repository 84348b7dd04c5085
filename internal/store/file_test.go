package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCredentials = `
pixels:
  - manager_id: prod-1
    pixel_id: PIXEL_PROD_1
    access_token: tok_prod_1
    display_name: Production pixel
    active: true
  - manager_id: old-2
    pixel_id: PIXEL_OLD_2
    access_token: tok_old_2
    display_name: Retired pixel
    active: false
`

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileStoreLookup(t *testing.T) {
	s, err := NewFileStore(writeCredentials(t, testCredentials))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	cred, err := s.Lookup(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "PIXEL_PROD_1", cred.PixelID)
	assert.Equal(t, "tok_prod_1", cred.AccessToken)

	_, err = s.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deactivated credentials resolve as absent.
	_, err = s.Lookup(ctx, "old-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreListExcludesInactive(t *testing.T) {
	s, err := NewFileStore(writeCredentials(t, testCredentials))
	require.NoError(t, err)
	defer s.Close()

	creds, err := s.ListCredentials(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "prod-1", creds[0].ManagerID)
}

func TestFileStoreReload(t *testing.T) {
	path := writeCredentials(t, testCredentials)
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	rotated := `
pixels:
  - manager_id: prod-1
    pixel_id: PIXEL_ROTATED
    access_token: tok_rotated
    active: true
`
	require.NoError(t, os.WriteFile(path, []byte(rotated), 0o600))
	require.NoError(t, s.Reload())

	cred, err := s.Lookup(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "PIXEL_ROTATED", cred.PixelID)
}

func TestFileStoreReloadKeepsOldOnError(t *testing.T) {
	path := writeCredentials(t, testCredentials)
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte("pixels: ["), 0o600))
	require.Error(t, s.Reload())

	// Previous snapshot still serves.
	_, err = s.Lookup(context.Background(), "prod-1")
	assert.NoError(t, err)
}

func TestFileStoreMutationsUnsupported(t *testing.T) {
	s, err := NewFileStore(writeCredentials(t, testCredentials))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	assert.ErrorIs(t, s.CreateCredential(ctx, &PixelCredential{ManagerID: "x"}), ErrUnsupported)
	_, err = s.UpdateCredential(ctx, "prod-1", CredentialUpdate{PixelID: "y"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFileStoreOutcomeHistory(t *testing.T) {
	s, err := NewFileStore(writeCredentials(t, testCredentials))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < outcomeHistory+10; i++ {
		status := StatusSuccess
		if i%2 == 0 {
			status = StatusError
		}
		require.NoError(t, s.Append(ctx, &DeliveryOutcome{
			ID:            "out",
			PixelID:       "PIXEL_PROD_1",
			SourceEventID: "evt",
			Status:        status,
		}))
	}

	outcomes, err := s.RecentOutcomes(ctx, "PIXEL_PROD_1", 100)
	require.NoError(t, err)
	assert.Len(t, outcomes, outcomeHistory)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActivePixels)
	assert.Equal(t, outcomeHistory+10, stats.TotalEvents)
	assert.Equal(t, 50.0, stats.SuccessRate)
}
