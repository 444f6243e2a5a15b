package engine

import (
	"context"

	"github.com/h2non/filetype"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// SendText publishes a text message to the conversation's send destination
// over the live channel.
//
// A nil return only means the frame was handed to the transport. The message
// becomes visible in the store when the server's live push echoes it back on
// the conversation topic; no local copy is inserted speculatively, so the
// echo can never produce a duplicate. While the channel is down this fails
// fast with transport.ErrNotConnected and the caller decides whether to use
// the HTTP fallback.
func (e *Engine) SendText(conversationID, content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	_, err := e.loop.call(context.Background(), func() (any, error) {
		if !e.started {
			return nil, ErrNotStarted
		}
		return nil, e.channel.Send(wire.SendDestination(conversationID), wire.SendMessageRequest{
			Content:     content,
			MessageType: wire.MessageTypeText,
		})
	})
	return err
}

// SendMedia uploads an image through the request/response collaborator and
// appends the returned message directly: the HTTP path has no live echo, the
// upload response is the materialized message.
func (e *Engine) SendMedia(ctx context.Context, conversationID, filename string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyContent
	}
	if !filetype.IsImage(data) {
		return ErrUnsupportedMedia
	}

	v, err := e.loop.call(ctx, func() (any, error) {
		return e.started, nil
	})
	if err != nil {
		return err
	}
	if started, _ := v.(bool); !started {
		return ErrNotStarted
	}

	msg, err := e.uploader.Upload(ctx, conversationID, filename, data)
	if err != nil {
		return err
	}
	if msg.MessageType == "" {
		msg.MessageType = wire.MessageTypeImage
	}

	// The engine may have stopped while the upload was in flight; a cleared
	// cache must never be resurrected by a late result.
	_, err = e.loop.call(ctx, func() (any, error) {
		if !e.started {
			return nil, ErrNotStarted
		}
		if !e.store.AppendLive(conversationID, msg) {
			logger.Debugf("engine: upload result for %s already present", conversationID)
		}
		return nil, nil
	})
	return err
}
