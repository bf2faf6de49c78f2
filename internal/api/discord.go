package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type DiscordUser struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
}

type DiscordGuild struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner *bool  `json:"owner,omitempty"`
}

func discordGet(ctx context.Context, accessToken, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", "warikanbot/1.0 (+https://github.com/susu3304/warikanbot)")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) getDiscordUser(ctx context.Context, accessToken string) (*DiscordUser, error) {
	var user DiscordUser
	if err := discordGet(ctx, accessToken, "https://discord.com/api/users/@me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *API) getDiscordGuilds(ctx context.Context, accessToken string) ([]DiscordGuild, error) {
	var guilds []DiscordGuild
	if err := discordGet(ctx, accessToken, "https://discord.com/api/users/@me/guilds", &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

func getUsername(user *DiscordUser) string {
	if user.GlobalName != nil && *user.GlobalName != "" {
		return *user.GlobalName
	}
	return user.Username
}

func (a *API) userHasGuildAccess(accessToken, guildID string) bool {
	guilds, err := a.getDiscordGuilds(context.Background(), accessToken)
	if err != nil {
		return false
	}
	for _, guild := range guilds {
		if guild.ID == guildID {
			return true
		}
	}
	return false
}
