package commands

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/susu3304/warikanbot/internal/ledger"
	"github.com/susu3304/warikanbot/internal/settlement"
	"go.uber.org/zap"
)

// Ledger writes fan out DMs before returning, which can outlast the
// three seconds Discord allows for an initial response.
const commandTimeout = 30 * time.Second

// Invocation identifies who ran a /warikan subcommand and where.
type Invocation struct {
	GuildID   string
	ChannelID string
	UserID    string
}

func HandleWarikan(s InteractionSession, i *discordgo.InteractionCreate, svc *ledger.Service, logger *zap.Logger) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		respondText(s, i, "サブコマンドが指定されていません")
		return
	}
	sub := data.Options[0]

	inv := Invocation{GuildID: i.GuildID, ChannelID: i.ChannelID}
	if i.Member != nil && i.Member.User != nil {
		inv.UserID = i.Member.User.ID
	} else if i.User != nil {
		inv.UserID = i.User.ID
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		logger.Warn("failed to defer interaction response",
			zap.String("subcommand", sub.Name),
			zap.String("channel_id", inv.ChannelID),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	msg := Execute(ctx, svc, logger, inv, data, sub)
	if err := editText(s, i, msg); err != nil {
		logger.Warn("failed to respond to interaction",
			zap.String("subcommand", sub.Name),
			zap.String("channel_id", inv.ChannelID),
			zap.Error(err),
		)
	}
}

// Execute runs one subcommand against the channel's active group and returns
// the reply text.
func Execute(ctx context.Context, svc *ledger.Service, logger *zap.Logger, inv Invocation, data discordgo.ApplicationCommandInteractionData, sub *discordgo.ApplicationCommandInteractionDataOption) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	fail := func(err error) string {
		msg, known := errorMessage(err)
		if !known {
			logger.Error("warikan command failed",
				zap.String("subcommand", sub.Name),
				zap.String("channel_id", inv.ChannelID),
				zap.Error(err),
			)
		}
		return msg
	}

	if sub.Name == "start" {
		name := getStringOption(sub.Options, "name")
		if name == nil || strings.TrimSpace(*name) == "" {
			return "グループ名の指定が必要です"
		}
		g, err := svc.CreateGroup(ctx, ledger.CreateGroupInput{
			Name:      strings.TrimSpace(*name),
			Members:   []string{inv.UserID},
			GuildID:   inv.GuildID,
			ChannelID: inv.ChannelID,
		})
		if settlement.IsState(err) {
			return "このチャンネルでは既に割り勘グループが進行中です"
		}
		if err != nil {
			return fail(err)
		}
		return fmt.Sprintf("割り勘グループ「%s」を開始しました", g.Name)
	}

	g, err := svc.GroupByChannel(ctx, inv.ChannelID)
	if err != nil {
		return fail(err)
	}

	switch sub.Name {
	case "join":
		joined, err := svc.Join(ctx, g.ID, inv.UserID)
		if err != nil {
			return fail(err)
		}
		if !joined {
			return "既に参加しています"
		}
		return "参加者として登録しました"

	case "pay":
		return pay(ctx, svc, g, inv, sub, fail)

	case "status":
		return statusMessage(g)

	case "done":
		to := getUserID(data, sub, "user")
		if to == "" {
			return "相手の指定が必要です"
		}
		res, err := svc.Resolve(ctx, g.ID, inv.UserID, to, inv.UserID)
		if err != nil {
			return fail(err)
		}
		msg := fmt.Sprintf("<@%s> → <@%s> %s 円の支払いを完了にしました", res.Settled.From, res.Settled.To, formatAmount(res.Settled.Amount))
		if res.GroupStatus == ledger.StatusCompleted {
			msg += "\nすべての精算が完了しました。お疲れさまでした！"
		}
		return msg

	case "history":
		h, err := svc.History(ctx, g.ID)
		if err != nil {
			return fail(err)
		}
		return historyMessage(h)

	case "close":
		if _, err := svc.DeleteGroup(ctx, g.ID); err != nil {
			return fail(err)
		}
		return fmt.Sprintf("割り勘グループ「%s」を削除しました", g.Name)
	}
	return "未知のサブコマンドです"
}

func pay(ctx context.Context, svc *ledger.Service, g *ledger.Group, inv Invocation, sub *discordgo.ApplicationCommandInteractionDataOption, fail func(error) string) string {
	amt := getNumberOption(sub.Options, "amount")
	memo := getStringOption(sub.Options, "memo")
	if amt == nil || memo == nil {
		return "金額と内容の指定が必要です"
	}

	payees := g.Members
	if !slices.Contains(payees, inv.UserID) {
		payees = append(slices.Clone(payees), inv.UserID)
	}
	mentioned := false
	if users := getStringOption(sub.Options, "users"); users != nil && strings.TrimSpace(*users) != "" {
		payees = parseMentionIDs(*users)
		if len(payees) == 0 {
			return "ユーザーのメンション/IDを認識できませんでした"
		}
		mentioned = true
	}

	e := settlement.Expense{
		Name:        *memo,
		Payer:       inv.UserID,
		TotalAmount: decimal.NewFromFloat(*amt).Round(2),
	}
	for _, id := range payees {
		e.Payees = append(e.Payees, settlement.EqualSplitPayee(id))
	}
	// Nobody is registered for a payment that will be rejected.
	if err := e.Validate(); err != nil {
		return fail(err)
	}

	var notes []string
	if joined, err := svc.Join(ctx, g.ID, inv.UserID); err != nil {
		return fail(err)
	} else if joined {
		notes = append(notes, "このユーザーを参加登録しました")
	}
	if mentioned {
		for _, id := range payees {
			if joined, err := svc.Join(ctx, g.ID, id); err != nil {
				return fail(err)
			} else if joined {
				notes = append(notes, fmt.Sprintf("<@%s> を参加者に追加しました", id))
			}
		}
	}

	res, err := svc.AddExpenses(ctx, g.ID, e)
	if err != nil {
		return fail(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "「%s」%s 円を記録しました (%d 名で割り勘)", e.Name, formatAmount(e.TotalAmount), len(payees))
	for _, n := range notes {
		b.WriteString("\n" + n)
	}
	b.WriteString("\n\n")
	writeEdges(&b, res.PendingEdges)
	if res.Warning != nil {
		b.WriteString("\n※端数の都合で精算しきれない金額があります")
	}
	return b.String()
}

func statusMessage(g *ledger.Group) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (参加者 %d 名)\n", g.Name, len(g.Members))
	writeEdges(&b, g.Pending())

	balances := g.Balances()
	ids := make([]string, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		b.WriteString("\n残高:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "・<@%s> %s 円\n", id, formatAmount(balances[id]))
		}
	}
	return b.String()
}

func writeEdges(b *strings.Builder, edges []settlement.Edge) {
	if len(edges) == 0 {
		b.WriteString("未精算の支払いはありません\n")
		return
	}
	b.WriteString("未精算:\n")
	for _, e := range edges {
		fmt.Fprintf(b, "・<@%s> → <@%s> %s 円\n", e.From, e.To, formatAmount(e.Amount))
	}
}

func historyMessage(h *ledger.History) string {
	if len(h.SettledEdges) == 0 {
		return "精算済みの支払いはまだありません"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** の精算履歴:\n", h.GroupName)
	for _, e := range h.SettledEdges {
		fmt.Fprintf(&b, "・%s <@%s> → <@%s> %s 円\n", e.SettledAt.Format("01/02 15:04"), e.From, e.To, formatAmount(e.Amount))
	}
	return b.String()
}

func formatAmount(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.StringFixed(0)
	}
	return d.StringFixed(2)
}
