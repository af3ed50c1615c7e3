package ghl

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexloop/wabridge/bridge/domain"
	"github.com/nexloop/wabridge/pkg/expiry"
)

const (
	contactCacheTTL   = 5 * time.Minute
	contactSweepEvery = time.Minute
)

// Credentials is the per-instance slice of GHL state the forwarder needs.
type Credentials struct {
	AccessToken            string
	LocationID             string
	ConversationProviderID string
}

// CredentialSource resolves an instance's stored GHL install.
type CredentialSource interface {
	GHLCredentials(ctx context.Context, instanceID string) (Credentials, error)
}

// Forwarder pushes relayed messages into GHL conversations. Contact IDs are
// cached per instance and phone so steady chat traffic costs one API call,
// not three.
type Forwarder struct {
	client   *Client
	source   CredentialSource
	contacts *expiry.Cache
}

func NewForwarder(client *Client, source CredentialSource) *Forwarder {
	return &Forwarder{
		client:   client,
		source:   source,
		contacts: expiry.New(contactSweepEvery),
	}
}

// Run starts the contact cache sweeper.
func (f *Forwarder) Run(ctx context.Context) {
	f.contacts.Start(ctx)
}

// PostMessage implements domain.CRMForwarder.
func (f *Forwarder) PostMessage(ctx context.Context, instanceID, phoneE164, content string, direction domain.Direction) error {
	creds, err := f.source.GHLCredentials(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds.AccessToken == "" || creds.LocationID == "" {
		logrus.Debugf("[GHL] Instance %s has no completed install, dropping message", instanceID)
		return nil
	}

	contactID, err := f.ensureContact(ctx, instanceID, creds, phoneE164)
	if err != nil {
		return err
	}

	payload := MessagePayload{
		ContactID:              contactID,
		Message:                content,
		Direction:              string(direction),
		ConversationProviderID: creds.ConversationProviderID,
	}
	if _, err := f.client.PostMessage(ctx, creds.AccessToken, payload); err != nil {
		return err
	}
	logrus.Infof("[GHL] Relayed %s message for %s on instance %s", direction, phoneE164, instanceID)
	return nil
}

func (f *Forwarder) ensureContact(ctx context.Context, instanceID string, creds Credentials, phoneE164 string) (string, error) {
	cacheKey := instanceID + "|" + phoneE164
	if cached, ok := f.contacts.Get(cacheKey); ok {
		return cached.(string), nil
	}

	contactID, err := f.client.SearchContact(ctx, creds.AccessToken, creds.LocationID, phoneE164)
	if err != nil {
		return "", err
	}
	if contactID == "" {
		contactID, err = f.client.CreateContact(ctx, creds.AccessToken, creds.LocationID, phoneE164, "")
		if err != nil {
			return "", err
		}
		logrus.Infof("[GHL] Created contact %s for %s", contactID, phoneE164)
	}

	f.contacts.Set(cacheKey, contactID, contactCacheTTL)
	return contactID, nil
}
