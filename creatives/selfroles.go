package creatives

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	selfRoleLimit       = 25
	selfRolePanelTitle  = "🎭 Self-Assignable Roles"
	selfRoleAuditReason = "Self-role assignment"
)

// resolvedRole returns the named role option, using the resolved role
// data when present so the name is known.
func resolvedRole(req *Request, name string) *discordgo.Role {
	opt, ok := req.Options()[name]
	if !ok {
		return nil
	}
	role := opt.RoleValue(nil, "")
	if req.Raw == nil {
		return role
	}
	if resolved := req.Raw.ApplicationCommandData().Resolved; resolved != nil {
		if rr, found := resolved.Roles[role.ID]; found && rr != nil {
			return rr
		}
	}
	return role
}

// parseComponentEmoji accepts a unicode emoji or a custom emoji mention
// such as <:name:id> or <a:name:id>.
func parseComponentEmoji(s string) *discordgo.ComponentEmoji {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if inner, ok := strings.CutPrefix(s, "<"); ok {
		if inner, ok = strings.CutSuffix(inner, ">"); ok {
			parts := strings.Split(inner, ":")
			if len(parts) == 3 && parts[2] != "" {
				return &discordgo.ComponentEmoji{
					Name:     parts[1],
					ID:       parts[2],
					Animated: parts[0] == "a",
				}
			}
		}
	}
	return &discordgo.ComponentEmoji{Name: s}
}

func (b *Bot) guildSelfRoles(ctx context.Context, guildID string) ([]SelfRole, error) {
	roles, err := b.stores.SelfRoles.List(
		ctx,
		Filter{Where: map[string]any{"guild_id": guildID}, Order: "name, role_id"},
	)
	if err != nil {
		return nil, fmt.Errorf("error loading self-roles: %w", err)
	}
	return roles, nil
}

func (b *Bot) selfRoleAdd(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("This command can only be used in a server.")
	}
	role := resolvedRole(req, "role")
	if role == nil {
		return newUserError("Please select a role.")
	}
	if role.ID == req.GuildID {
		return newUserError("❌ @everyone can't be a self-role.")
	}
	if role.Managed {
		return newUserError("❌ Roles managed by an integration can't be self-assigned.")
	}

	existing, err := b.stores.SelfRoles.Get(ctx, Key{"guild_id": req.GuildID, "role_id": role.ID})
	if err != nil {
		return fmt.Errorf("error loading self-role: %w", err)
	}
	if existing == nil {
		n, err := b.stores.SelfRoles.Count(ctx, map[string]any{"guild_id": req.GuildID})
		if err != nil {
			return fmt.Errorf("error counting self-roles: %w", err)
		}
		if n >= selfRoleLimit {
			return newUserError("❌ A server can have at most %d self-roles.", selfRoleLimit)
		}
	}

	name := role.Name
	if name == "" {
		name = role.ID
	}
	opts := req.Options()
	sr := &SelfRole{
		GuildID:     req.GuildID,
		RoleID:      role.ID,
		Name:        name,
		Emoji:       strings.TrimSpace(optionString(opts, "emoji")),
		Description: shortenString(optionString(opts, "description"), 100),
	}
	if err = b.stores.SelfRoles.Put(ctx, sr); err != nil {
		return fmt.Errorf("error saving self-role: %w", err)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color: colorGreen,
					Title: "✅ Self-Role Added",
					Description: fmt.Sprintf(
						"<@&%s> can now be picked from the role panel. Run `/%s` to post an updated panel.",
						role.ID,
						commandSelfRolePanel,
					),
					Timestamp: b.embedTimestamp(),
				},
			},
		},
	)
}

func (b *Bot) selfRoleRemove(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("This command can only be used in a server.")
	}
	role := resolvedRole(req, "role")
	if role == nil {
		return newUserError("Please select a role.")
	}
	n, err := b.stores.SelfRoles.Delete(ctx, Key{"guild_id": req.GuildID, "role_id": role.ID})
	if err != nil {
		return fmt.Errorf("error removing self-role: %w", err)
	}
	if n == 0 {
		return newUserError("<@&%s> is not a self-role.", role.ID)
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🗑️ Self-Role Removed",
					Description: fmt.Sprintf("<@&%s> can no longer be self-assigned.", role.ID),
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}

// selfRolePanel posts the role select menu in the current channel.
func (b *Bot) selfRolePanel(ctx context.Context, req *Request) error {
	if req.GuildID == "" {
		return newUserError("This command can only be used in a server.")
	}
	roles, err := b.guildSelfRoles(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return newUserError("No self-roles are configured. Add one with `/%s`.", commandSelfRoleAdd)
	}

	lines := make([]string, 0, len(roles))
	options := make([]discordgo.SelectMenuOption, 0, len(roles))
	for _, r := range roles {
		line := fmt.Sprintf("<@&%s>", r.RoleID)
		if r.Emoji != "" {
			line = r.Emoji + " " + line
		}
		if r.Description != "" {
			line += " - " + r.Description
		}
		lines = append(lines, line)
		options = append(
			options,
			discordgo.SelectMenuOption{
				Label:       shortenString(r.Name, 100),
				Value:       r.RoleID,
				Description: r.Description,
				Emoji:       parseComponentEmoji(r.Emoji),
			},
		)
	}
	title := optionString(req.Options(), "title")
	if title == "" {
		title = selfRolePanelTitle
	}
	minValues := 0
	_, err = b.discord.session.ChannelMessageSendComplex(
		req.ChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorPurple,
					Title:       title,
					Description: shortenString(strings.Join(lines, "\n"), discordMaxEmbedDescriptionLength),
					Footer:      &discordgo.MessageEmbedFooter{Text: "Pick any roles you want. Unselect a role to remove it."},
				},
			},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.SelectMenu{
							MenuType:    discordgo.StringSelectMenu,
							CustomID:    customIDSelfRoleSelect,
							Placeholder: "Choose your roles",
							MinValues:   &minValues,
							MaxValues:   len(options),
							Options:     options,
						},
					},
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error posting role panel: %w", err)
	}
	return req.Resolve(ctx, Reply{Content: "✅ Role panel posted."})
}

// selfRoleSelect reconciles the member's self-roles with the menu
// selection. Roles outside the configured set are never touched.
func (b *Bot) selfRoleSelect(ctx context.Context, req *Request) error {
	if req.GuildID == "" || req.Member == nil {
		return newUserError("This menu can only be used in a server.")
	}
	roles, err := b.guildSelfRoles(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return newUserError("No self-roles are configured on this server.")
	}
	selected := req.Raw.MessageComponentData().Values

	var added, removed, failed []string
	for _, r := range roles {
		want := slices.Contains(selected, r.RoleID)
		have := slices.Contains(req.Member.Roles, r.RoleID)
		switch {
		case want && !have:
			err = b.discord.session.GuildMemberRoleAdd(
				req.GuildID,
				req.UserID,
				r.RoleID,
				discordgo.WithContext(ctx),
				discordgo.WithAuditLogReason(selfRoleAuditReason),
			)
			if err != nil {
				if code, ok := discordErrorCode(err); ok && code == discordCodeMissingPermissions {
					failed = append(failed, fmt.Sprintf("Cannot assign **%s** - role hierarchy issue", r.Name))
					continue
				}
				return fmt.Errorf("error adding role %s: %w", r.RoleID, err)
			}
			added = append(added, r.Name)
		case !want && have:
			err = b.discord.session.GuildMemberRoleRemove(
				req.GuildID,
				req.UserID,
				r.RoleID,
				discordgo.WithContext(ctx),
				discordgo.WithAuditLogReason(selfRoleAuditReason),
			)
			if err != nil {
				if code, ok := discordErrorCode(err); ok && code == discordCodeMissingPermissions {
					failed = append(failed, fmt.Sprintf("Cannot remove **%s** - role hierarchy issue", r.Name))
					continue
				}
				return fmt.Errorf("error removing role %s: %w", r.RoleID, err)
			}
			removed = append(removed, r.Name)
		}
	}

	var sb strings.Builder
	if len(added) > 0 {
		fmt.Fprintf(&sb, "**✅ Added:** %s\n", strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		fmt.Fprintf(&sb, "**❌ Removed:** %s\n", strings.Join(removed, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "**⚠️ Errors:** %s", strings.Join(failed, ", "))
	}
	description := strings.TrimSpace(sb.String())
	if description == "" {
		description = "No changes were made."
	}
	return req.Resolve(
		ctx, Reply{
			Embeds: []*discordgo.MessageEmbed{
				{
					Color:       colorGreen,
					Title:       "🎭 Roles Updated",
					Description: description,
					Timestamp:   b.embedTimestamp(),
				},
			},
		},
	)
}
