package platform

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dguik/discode/lib/msgfmt"
	"github.com/slack-go/slack"
)

// SlackSender implements Sender over a slack.Client, grounded on the
// Socket-Mode bot's posting/reacting idiom (channel + message timestamp
// as the message identity, since Slack has no separate message id).
type SlackSender struct {
	client *slack.Client
}

// NewSlackSender creates a sender authenticated with a bot token. The
// caller is expected to separately run a socketmode.Client for inbound
// events (see lib/router), since Sender only covers outbound operations.
func NewSlackSender(botToken string) *SlackSender {
	return &SlackSender{client: slack.New(botToken)}
}

func (s *SlackSender) Platform() msgfmt.Platform { return msgfmt.Slack }

func (s *SlackSender) SendMessage(_ context.Context, channelID, text string) (string, error) {
	_, timestamp, err := s.client.PostMessage(channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack post to %s: %w", channelID, err)
	}
	return timestamp, nil
}

func (s *SlackSender) EditMessage(_ context.Context, channelID, messageID, text string) error {
	_, _, _, err := s.client.UpdateMessage(channelID, messageID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack update %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

func (s *SlackSender) SetReaction(_ context.Context, channelID, messageID string, glyph Reaction) error {
	if glyph == "" {
		return nil
	}
	name, ok := slackEmojiNames[glyph]
	if !ok {
		return nil
	}
	ref := slack.NewRefToMessage(channelID, messageID)
	if err := s.client.AddReaction(name, ref); err != nil {
		return fmt.Errorf("slack react %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

func (s *SlackSender) SendFiles(_ context.Context, channelID string, paths []string) error {
	for _, path := range paths {
		_, err := s.client.UploadFileV2(slack.UploadFileV2Parameters{
			Channel:  channelID,
			File:     path,
			Filename: filepath.Base(path),
		})
		if err != nil {
			return fmt.Errorf("slack upload %s to %s: %w", path, channelID, err)
		}
	}
	return nil
}

// slackEmojiNames maps the reaction glyphs used on the source chat
// message to Slack's `:name:` reaction identifiers.
var slackEmojiNames = map[Reaction]string{
	"⏳": "hourglass_flowing_sand",
	"🧠": "brain",
	"✅": "white_check_mark",
	"❌": "x",
	"❓": "question",
}

var _ Sender = (*SlackSender)(nil)
