package cmd

import (
	"context"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nexloop/wabridge/bridge"
	coreconfig "github.com/nexloop/wabridge/core/config"
	coreDB "github.com/nexloop/wabridge/core/database"
	domainInstance "github.com/nexloop/wabridge/domains/instance"
	domainMessage "github.com/nexloop/wabridge/domains/message"
	"github.com/nexloop/wabridge/infrastructure/valkey"
	"github.com/nexloop/wabridge/infrastructure/whatsapp"
	"github.com/nexloop/wabridge/integrations/ghl"
	"github.com/nexloop/wabridge/pkg/crypto"
	"github.com/nexloop/wabridge/pkg/utils"
	"github.com/nexloop/wabridge/repository"
	"github.com/nexloop/wabridge/usecase"
)

var (
	// Bridge core
	hub       *bridge.Hub
	registry  *bridge.Registry
	relay     *bridge.Relay
	ghlClient *ghl.Client
	vkClient  *valkey.Client
	serverID  string

	registryCancel context.CancelFunc

	// Usecases
	instanceUsecase domainInstance.IInstanceUsecase
	messageUsecase  domainMessage.IMessageUsecase
)

var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "WhatsApp to GoHighLevel bridge",
	Long: `Multi-tenant bridge that pairs WhatsApp accounts through QR login and
relays direct-chat messages into GoHighLevel conversations, including the
reverse path for agent replies sent from the CRM.`,
}

func init() {
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.OnInitialize(initApp)
}

func initApp() {
	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("[APP] Failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreateFolder(cfg.Paths.Storages); err != nil {
		logrus.Errorln(err)
	}

	if cfg.App.SecretKey != "" {
		if err := crypto.SetEncryptionKey(cfg.App.SecretKey); err != nil {
			logrus.Fatalf("[APP] Failed to configure token encryption: %v", err)
		}
	} else {
		logrus.Warn("[APP] APP_SECRET_KEY not set, OAuth tokens are stored unencrypted")
	}

	ctx := context.Background()

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("[APP] Failed to open database: %v", err)
	}
	repo := repository.NewInstanceGormRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		logrus.Fatalf("[APP] Failed to migrate database: %v", err)
	}

	ghlClient = ghl.NewClient(ghl.Config{
		ClientID:       cfg.GHL.ClientID,
		ClientSecret:   cfg.GHL.ClientSecret,
		RedirectURI:    cfg.GHL.RedirectURI,
		APIBase:        cfg.GHL.APIBase,
		MarketplaceURL: cfg.GHL.MarketplaceURL,
	})

	factory := whatsapp.NewFactory(whatsapp.Config{
		StoragePath: cfg.Paths.Storages,
		LogLevel:    cfg.Whatsapp.LogLevel,
		OSName:      cfg.App.OS,
	})

	hub = bridge.NewHub()
	registry = bridge.NewRegistry(hub, repo, factory)
	relay = bridge.NewRelay(registry, ghl.NewForwarder(ghlClient, repo))

	var registryCtx context.Context
	registryCtx, registryCancel = context.WithCancel(context.Background())
	registry.Run(registryCtx)
	relay.Run(registryCtx)

	instanceUsecase = usecase.NewInstanceService(repo, registry, ghlClient, cfg.Paths.Storages)
	messageUsecase = usecase.NewMessageService(repo, relay, ghlClient)

	serverID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	if cfg.Valkey.Enabled {
		vkClient, err = valkey.NewClient(valkey.Config{
			Address:  cfg.Valkey.Address,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
		})
		if err != nil {
			logrus.Errorf("[APP] Valkey disabled, connection failed: %v", err)
			vkClient = nil
		}
	}

	// Resume sessions for instances that completed pairing before the restart.
	go func() {
		if err := instanceUsecase.StartInstalled(ctx); err != nil {
			logrus.Errorf("[APP] Failed to resume installed instances: %v", err)
		}
	}()
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp performs a clean shutdown of sessions and connections.
func StopApp() {
	logrus.Info("[APP] Stopping application...")

	if registry != nil {
		registry.StopAll()
	}
	if registryCancel != nil {
		registryCancel()
	}
	if vkClient != nil {
		vkClient.Close()
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
