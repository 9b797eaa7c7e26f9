package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/dguik/discode/lib/msgfmt"
)

// DiscordSender implements Sender over a live discordgo session.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender opens a bot session authenticated with token.
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord session: %w", err)
	}
	return &DiscordSender{session: session}, nil
}

func (d *DiscordSender) Platform() msgfmt.Platform { return msgfmt.Discord }

func (d *DiscordSender) SendMessage(_ context.Context, channelID, text string) (string, error) {
	msg, err := d.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", fmt.Errorf("discord send to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

func (d *DiscordSender) EditMessage(_ context.Context, channelID, messageID, text string) error {
	_, err := d.session.ChannelMessageEdit(channelID, messageID, text)
	if err != nil {
		return fmt.Errorf("discord edit %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

func (d *DiscordSender) SetReaction(_ context.Context, channelID, messageID string, glyph Reaction) error {
	if glyph == "" {
		return nil
	}
	if err := d.session.MessageReactionAdd(channelID, messageID, string(glyph)); err != nil {
		return fmt.Errorf("discord react %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

func (d *DiscordSender) SendFiles(_ context.Context, channelID string, paths []string) error {
	var files []*discordgo.File
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening attachment %s: %w", path, err)
		}
		defer f.Close()
		files = append(files, &discordgo.File{Name: filepath.Base(path), Reader: f})
	}
	if len(files) == 0 {
		return nil
	}
	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Files: files})
	if err != nil {
		return fmt.Errorf("discord send files to %s: %w", channelID, err)
	}
	return nil
}

var _ Sender = (*DiscordSender)(nil)
