package whatsapp

import (
	"strings"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/nexloop/wabridge/bridge/domain"
)

func textMessage(body string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(body)}
}

// mapMessage flattens a whatsmeow message event into the adapter-neutral
// shape. Status broadcasts are dropped here; all further filtering (groups,
// dedup, echoes) belongs to the relay.
func mapMessage(evt *events.Message) *domain.RawMessage {
	chat := evt.Info.Chat.ToNonAD().String()
	if chat == "status@broadcast" || evt.Info.IsIncomingBroadcast() {
		return nil
	}

	msg := &domain.RawMessage{
		ID:        string(evt.Info.ID),
		ChatID:    chat,
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}

	m := evt.Message
	switch {
	case m.GetConversation() != "":
		msg.Type = "text"
		msg.Body = m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		msg.Type = "text"
		msg.Body = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		msg.Type = "image"
		msg.Caption = m.GetImageMessage().GetCaption()
	case m.GetAudioMessage() != nil:
		msg.Type = "audio"
		if m.GetAudioMessage().GetPTT() {
			msg.Type = "ptt"
		}
	case m.GetVideoMessage() != nil:
		msg.Type = "video"
		msg.Caption = m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		msg.Type = "document"
		msg.Caption = documentCaption(m.GetDocumentMessage().GetCaption(), m.GetDocumentMessage().GetFileName())
	case m.GetStickerMessage() != nil:
		msg.Type = "sticker"
	default:
		msg.Type = strings.ToLower(evt.Info.Type)
	}

	return msg
}

func documentCaption(caption, fileName string) string {
	if caption != "" {
		return caption
	}
	return fileName
}
