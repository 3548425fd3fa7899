package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botgate/cmd/identity"
	"botgate/cmd/internal/verify"
)

// ErrPrivateGroup is returned for invite-link groups the Bot API cannot query.
var ErrPrivateGroup = errors.New("telegram: invite-link groups cannot be checked")

// MemberAPI is the subset of *tgbotapi.BotAPI used for membership checks.
type MemberAPI interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// ChatMemberChecker answers membership questions with getChatMember.
//
// The bot must be an administrator of channels it checks; otherwise Telegram
// answers with an error and the group is reported unverifiable.
type ChatMemberChecker struct {
	api MemberAPI
}

var _ verify.MembershipChecker = (*ChatMemberChecker)(nil)

func NewChatMemberChecker(api MemberAPI) *ChatMemberChecker {
	return &ChatMemberChecker{api: api}
}

// CheckMembership implements verify.MembershipChecker.
func (c *ChatMemberChecker) CheckMembership(ctx context.Context, user identity.User, group string) (verify.Membership, error) {
	chat, err := ParseGroupRef(group)
	if err != nil {
		return verify.MembershipUnverifiable, err
	}
	if err := ctx.Err(); err != nil {
		return verify.MembershipUnverifiable, err
	}

	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID:             chat.ID,
			SuperGroupUsername: chat.Username,
			UserID:             user.ID,
		},
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && isUserNotFound(apiErr.Message) {
			return verify.MembershipNotMember, nil
		}
		return verify.MembershipUnverifiable, fmt.Errorf("telegram: getChatMember %s: %w", group, err)
	}
	return membershipOf(member), nil
}

func membershipOf(m tgbotapi.ChatMember) verify.Membership {
	switch m.Status {
	case "creator", "administrator", "member":
		return verify.MembershipMember
	case "restricted":
		if m.IsMember {
			return verify.MembershipMember
		}
		return verify.MembershipNotMember
	case "left", "kicked":
		return verify.MembershipNotMember
	default:
		return verify.MembershipUnverifiable
	}
}

func isUserNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "user not found") || strings.Contains(msg, "participant_id_invalid")
}

// ChatRef addresses a chat either by numeric id or by public @username.
type ChatRef struct {
	ID       int64
	Username string
}

// ParseGroupRef maps a configured group to a chat reference.
//
// Accepted forms: "@name", "name", "https://t.me/name", "t.me/name" and numeric ids
// such as "-1001234567890". Invite links ("t.me/+...", "t.me/joinchat/...") yield
// ErrPrivateGroup.
func ParseGroupRef(group string) (ChatRef, error) {
	g := strings.TrimSpace(group)
	if g == "" {
		return ChatRef{}, errors.New("telegram: empty group reference")
	}

	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if rest, ok := strings.CutPrefix(g, p); ok {
			if strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "joinchat/") {
				return ChatRef{}, ErrPrivateGroup
			}
			g = strings.TrimSuffix(rest, "/")
			break
		}
	}

	if id, err := strconv.ParseInt(g, 10, 64); err == nil {
		return ChatRef{ID: id}, nil
	}

	name := strings.TrimPrefix(g, "@")
	if name == "" || strings.ContainsAny(name, "/ ?") {
		return ChatRef{}, fmt.Errorf("telegram: unsupported group reference %q", group)
	}
	return ChatRef{Username: "@" + name}, nil
}
