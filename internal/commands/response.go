package commands

import (
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/settlement"
)

// Discord rejects message content longer than this.
const maxMessageLen = 2000

// InteractionSession is the part of discordgo.Session used to answer
// slash commands.
type InteractionSession interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func respondText(s InteractionSession, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: truncate(content)},
	})
}

// editText fills in a deferred response.
func editText(s InteractionSession, i *discordgo.InteractionCreate, content string) error {
	content = truncate(content)
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	return err
}

func truncate(content string) string {
	if len(content) <= maxMessageLen {
		return content
	}
	cut := maxMessageLen - len("\n…")
	// Do not split a multi-byte character.
	for cut > 0 && !utf8Start(content[cut]) {
		cut--
	}
	return strings.TrimRight(content[:cut], "\n") + "\n…"
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// errorMessage turns a ledger error into a reply for the invoking user.
func errorMessage(err error) (string, bool) {
	var (
		verr *settlement.ValidationError
		nerr *settlement.NotFoundError
		perr *settlement.PermissionError
		serr *settlement.StateError
	)
	switch {
	case errors.As(err, &verr):
		return "入力が正しくありません: " + verr.Reason, true
	case errors.As(err, &nerr):
		if strings.HasPrefix(nerr.Kind, "group") {
			return "このチャンネルに進行中の割り勘グループはありません", true
		}
		return "該当する未精算の支払いはありません", true
	case errors.As(err, &perr):
		return "自分が支払う分だけ完了にできます", true
	case errors.As(err, &serr):
		return "このグループは既に終了しています", true
	case errors.Is(err, ledger.ErrVersionConflict):
		return "同時に更新されました。もう一度お試しください", true
	}
	return "処理に失敗しました", false
}
