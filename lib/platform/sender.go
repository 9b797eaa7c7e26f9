// Package platform abstracts the two chat platforms (Discord, Slack)
// behind one Sender contract, so the pipeline/handlers/router never know
// which platform a channel belongs to. Anything beyond this narrow
// contract is the SDK's business — this package is the thin collaborator
// the core treats as external.
package platform

import (
	"context"

	"github.com/dguik/discode/lib/msgfmt"
)

// Reaction glyph constants re-exported here so platform implementations
// don't need to import lib/pending just for the glyph type.
type Reaction string

// Sender is the one contract every chat-platform adapter implements.
type Sender interface {
	// Platform identifies which message-size budget to use for splitting.
	Platform() msgfmt.Platform

	// SendMessage posts text to channelID, splitting it across multiple
	// platform messages if needed, and returns the id of the first chunk
	// sent (the one subsequent edits/reactions target).
	SendMessage(ctx context.Context, channelID, text string) (messageID string, err error)

	// EditMessage replaces the content of an existing message in place.
	EditMessage(ctx context.Context, channelID, messageID, text string) error

	// SetReaction sets (or clears, for ReactionNone) the given emoji glyph
	// on a message.
	SetReaction(ctx context.Context, channelID, messageID string, glyph Reaction) error

	// SendFiles delivers local files as attachments.
	SendFiles(ctx context.Context, channelID string, paths []string) error
}

// SplitAndSend posts text to channelID via sender, splitting on sender's
// platform budget, and returns the id of the first chunk.
func SplitAndSend(ctx context.Context, sender Sender, channelID, text string) (string, error) {
	chunks := msgfmt.Split(text, sender.Platform())
	var firstID string
	for i, chunk := range chunks {
		id, err := sender.SendMessage(ctx, channelID, chunk)
		if err != nil {
			return firstID, err
		}
		if i == 0 {
			firstID = id
		}
	}
	return firstID, nil
}
