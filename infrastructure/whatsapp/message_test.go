package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func messageEvent(chat, sender types.JID, fromMe bool, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: sender, IsFromMe: fromMe},
			ID:            "WAID1",
			Timestamp:     time.Now(),
			Type:          "text",
		},
		Message: msg,
	}
}

func TestMapMessageConversation(t *testing.T) {
	chat := types.NewJID("5511999990000", types.DefaultUserServer)
	evt := messageEvent(chat, chat, false, &waE2E.Message{Conversation: proto.String("hello")})

	msg := mapMessage(evt)
	require.NotNil(t, msg)
	assert.Equal(t, "WAID1", msg.ID)
	assert.Equal(t, "5511999990000@s.whatsapp.net", msg.ChatID)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "hello", msg.Body)
	assert.False(t, msg.FromMe)
}

func TestMapMessageExtendedText(t *testing.T) {
	chat := types.NewJID("5511999990000", types.DefaultUserServer)
	evt := messageEvent(chat, chat, true, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("linked text")},
	})

	msg := mapMessage(evt)
	require.NotNil(t, msg)
	assert.Equal(t, "linked text", msg.Body)
	assert.True(t, msg.FromMe)
}

func TestMapMessageMediaTypes(t *testing.T) {
	chat := types.NewJID("5511999990000", types.DefaultUserServer)

	img := mapMessage(messageEvent(chat, chat, false, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")},
	}))
	require.NotNil(t, img)
	assert.Equal(t, "image", img.Type)
	assert.Equal(t, "look", img.Caption)

	voice := mapMessage(messageEvent(chat, chat, false, &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)},
	}))
	require.NotNil(t, voice)
	assert.Equal(t, "ptt", voice.Type)

	doc := mapMessage(messageEvent(chat, chat, false, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("invoice.pdf")},
	}))
	require.NotNil(t, doc)
	assert.Equal(t, "document", doc.Type)
	assert.Equal(t, "invoice.pdf", doc.Caption)
}

func TestMapMessageDropsStatusBroadcast(t *testing.T) {
	status := types.JID{User: "status", Server: "broadcast"}
	sender := types.NewJID("5511999990000", types.DefaultUserServer)
	evt := messageEvent(status, sender, false, &waE2E.Message{Conversation: proto.String("story")})

	assert.Nil(t, mapMessage(evt))
}
