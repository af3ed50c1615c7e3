package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domainInstance "github.com/nexloop/wabridge/domains/instance"
	pkgError "github.com/nexloop/wabridge/pkg/error"
)

func newTestRepo(t *testing.T) *InstanceGormRepository {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "instances.db") + "?_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	repo := NewInstanceGormRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))
	return repo
}

func TestInstanceCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inst := &domainInstance.Instance{Name: "Clinic Front Desk"}
	require.NoError(t, repo.Create(ctx, inst))
	require.NotEmpty(t, inst.ID)

	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clinic Front Desk", got.Name)
	assert.Empty(t, got.PhoneNumber)

	require.NoError(t, repo.UpdateName(ctx, inst.ID, "Clinic Reception"))
	got, err = repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Clinic Reception", got.Name)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, inst.ID))
	_, err = repo.GetByID(ctx, inst.ID)
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
	assert.ErrorAs(t, repo.Delete(ctx, inst.ID), new(pkgError.NotFoundError))
}

func TestInstanceQRLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inst := &domainInstance.Instance{Name: "qr"}
	require.NoError(t, repo.Create(ctx, inst))

	issued := time.Now().Truncate(time.Second)
	require.NoError(t, repo.SaveQR(ctx, inst.ID, "data:image/png;base64,AAA", issued))

	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAA", got.QRCode)
	require.NotNil(t, got.QRCodeUpdatedAt)
	assert.Equal(t, "data:image/png;base64,AAA", got.LiveQR(issued.Add(time.Minute)))
	assert.Empty(t, got.LiveQR(issued.Add(10*time.Minute)), "QR past validity must be hidden")

	require.NoError(t, repo.ClearQR(ctx, inst.ID))
	got, err = repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, got.QRCode)
	assert.Nil(t, got.QRCodeUpdatedAt)
}

func TestInstancePhoneNumberLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inst := &domainInstance.Instance{Name: "phone"}
	require.NoError(t, repo.Create(ctx, inst))

	require.NoError(t, repo.SetPhoneNumber(ctx, inst.ID, "5511999990000"))
	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "5511999990000", got.PhoneNumber)

	require.NoError(t, repo.ClearPhoneNumber(ctx, inst.ID))
	got, err = repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PhoneNumber)
}

func TestInstanceInstallAndCredentials(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inst := &domainInstance.Instance{Name: "install"}
	require.NoError(t, repo.Create(ctx, inst))

	require.NoError(t, repo.SaveInstall(ctx, inst.ID, "at-1", "rt-1", "loc-1", "comp-1", "prov-1"))

	got, err := repo.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.Installed())
	assert.Equal(t, "loc-1", got.LocationID)
	assert.Equal(t, "prov-1", got.ConversationProviderID)

	byLoc, err := repo.GetByLocationID(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, byLoc.ID)

	creds, err := repo.GHLCredentials(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.AccessToken)
	assert.Equal(t, "loc-1", creds.LocationID)
	assert.Equal(t, "prov-1", creds.ConversationProviderID)

	_, err = repo.GetByLocationID(ctx, "loc-unknown")
	assert.ErrorAs(t, err, new(pkgError.NotFoundError))
}
