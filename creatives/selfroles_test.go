package creatives

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfRoleCommand(
	name string,
	role *discordgo.Role,
	opts ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	admin := testMember("admin-1", discordgo.PermissionManageRoles)
	opts = append([]*discordgo.ApplicationCommandInteractionDataOption{roleOption("role", role.ID)}, opts...)
	i := commandInteraction(name, admin, opts...)
	data := i.ApplicationCommandData()
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Roles: map[string]*discordgo.Role{role.ID: role},
	}
	i.Data = data
	return i
}

func selfRoleSelectInteraction(member *discordgo.Member, values ...string) *discordgo.InteractionCreate {
	i := componentInteraction(customIDSelfRoleSelect, testChannelID, member)
	i.Data = discordgo.MessageComponentInteractionData{
		CustomID:      customIDSelfRoleSelect,
		ComponentType: discordgo.SelectMenuComponent,
		Values:        values,
	}
	return i
}

func addSelfRole(t *testing.T, tb *testBot, id, name, emoji string) {
	t.Helper()
	r := tb.dispatch(
		t,
		selfRoleCommand(
			commandSelfRoleAdd,
			&discordgo.Role{ID: id, Name: name},
			stringOption("emoji", emoji),
			stringOption("description", name+" pings"),
		),
	)
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1, reply.Content)
	require.Equal(t, "✅ Self-Role Added", reply.Embeds[0].Title)
}

func TestSelfRoles_AddRejects(t *testing.T) {
	tests := []struct {
		name string
		role *discordgo.Role
		want string
	}{
		{name: "everyone", role: &discordgo.Role{ID: testGuildID, Name: "@everyone"}, want: "@everyone"},
		{name: "managed", role: &discordgo.Role{ID: "role-bot", Name: "Bot", Managed: true}, want: "managed by an integration"},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tb := newTestBot(t)
				r := tb.dispatch(t, selfRoleCommand(commandSelfRoleAdd, tt.role))
				assert.Contains(t, lastReply(t, r).Content, tt.want)
				n, err := tb.stores.SelfRoles.Count(context.Background(), nil)
				require.NoError(t, err)
				assert.Zero(t, n)
			},
		)
	}
}

func TestSelfRoles_Limit(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	for i := range selfRoleLimit {
		require.NoError(
			t,
			tb.stores.SelfRoles.Put(ctx, &SelfRole{GuildID: testGuildID, RoleID: "r" + string(rune('a'+i))}),
		)
	}
	r := tb.dispatch(t, selfRoleCommand(commandSelfRoleAdd, &discordgo.Role{ID: "role-new", Name: "New"}))
	assert.Contains(t, lastReply(t, r).Content, "at most 25 self-roles")

	// updating an existing role is still allowed at the limit
	r = tb.dispatch(
		t,
		selfRoleCommand(commandSelfRoleAdd, &discordgo.Role{ID: "ra", Name: "Renamed"}),
	)
	require.Len(t, lastReply(t, r).Embeds, 1)
	sr, err := tb.stores.SelfRoles.Get(ctx, Key{"guild_id": testGuildID, "role_id": "ra"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", sr.Name)
}

func TestSelfRoles_Panel(t *testing.T) {
	tb := newTestBot(t)
	admin := testMember("admin-1", discordgo.PermissionManageRoles)

	r := tb.dispatch(t, commandInteraction(commandSelfRolePanel, admin))
	assert.Contains(t, lastReply(t, r).Content, "No self-roles are configured")

	addSelfRole(t, tb, "role-art", "Artists", "🎨")
	addSelfRole(t, tb, "role-music", "Musicians", "<:note:77>")

	r = tb.dispatch(t, commandInteraction(commandSelfRolePanel, admin))
	assert.Equal(t, "✅ Role panel posted.", lastReply(t, r).Content)

	posted := tb.session.messages[testChannelID]
	require.Len(t, posted, 1)
	require.Len(t, posted[0].Embeds, 1)
	assert.Equal(t, selfRolePanelTitle, posted[0].Embeds[0].Title)
	assert.Contains(t, posted[0].Embeds[0].Description, "🎨 <@&role-art> - Artists pings")

	require.Len(t, posted[0].Components, 1)
	row, ok := posted[0].Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	menu, ok := row.Components[0].(discordgo.SelectMenu)
	require.True(t, ok)
	assert.Equal(t, customIDSelfRoleSelect, menu.CustomID)
	require.NotNil(t, menu.MinValues)
	assert.Zero(t, *menu.MinValues)
	assert.Equal(t, 2, menu.MaxValues)
	require.Len(t, menu.Options, 2)
	assert.Equal(t, "Artists", menu.Options[0].Label)
	assert.Equal(t, "role-art", menu.Options[0].Value)
	assert.Equal(t, &discordgo.ComponentEmoji{Name: "note", ID: "77"}, menu.Options[1].Emoji)
}

func TestSelfRoles_Select(t *testing.T) {
	tests := []struct {
		name        string
		has         []string
		selected    []string
		roleErrs    map[string]error
		wantAdds    []string
		wantRemoves []string
		wantDesc    []string
	}{
		{
			name:     "add",
			selected: []string{"role-art"},
			wantAdds: []string{testUserID + "/role-art"},
			wantDesc: []string{"**✅ Added:** Artists"},
		},
		{
			name:        "swap",
			has:         []string{"role-art", "role-other"},
			selected:    []string{"role-music"},
			wantAdds:    []string{testUserID + "/role-music"},
			wantRemoves: []string{testUserID + "/role-art"},
			wantDesc:    []string{"**✅ Added:** Musicians", "**❌ Removed:** Artists"},
		},
		{
			name:     "unconfigured values ignored",
			has:      []string{"role-art"},
			selected: []string{"role-art", "role-admin"},
			wantDesc: []string{"No changes were made."},
		},
		{
			name:     "hierarchy",
			selected: []string{"role-art", "role-music"},
			roleErrs: map[string]error{
				"role-music": &discordgo.RESTError{
					Message: &discordgo.APIErrorMessage{Code: discordCodeMissingPermissions},
				},
			},
			wantAdds: []string{testUserID + "/role-art"},
			wantDesc: []string{
				"**✅ Added:** Artists",
				"**⚠️ Errors:** Cannot assign **Musicians** - role hierarchy issue",
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tb := newTestBot(t)
				addSelfRole(t, tb, "role-art", "Artists", "")
				addSelfRole(t, tb, "role-music", "Musicians", "")
				tb.session.roleErrs = tt.roleErrs

				r := tb.dispatch(t, selfRoleSelectInteraction(testMember(testUserID, 0, tt.has...), tt.selected...))
				reply := lastReply(t, r)
				require.Len(t, reply.Embeds, 1, reply.Content)
				assert.Equal(t, "🎭 Roles Updated", reply.Embeds[0].Title)
				for _, want := range tt.wantDesc {
					assert.Contains(t, reply.Embeds[0].Description, want)
				}
				assert.Equal(t, tt.wantAdds, tb.session.roleAdds)
				assert.Equal(t, tt.wantRemoves, tb.session.roleRemoves)
			},
		)
	}
}

func TestSelfRoles_SelectUnexpectedError(t *testing.T) {
	tb := newTestBot(t)
	addSelfRole(t, tb, "role-art", "Artists", "")
	tb.session.roleErrs = map[string]error{"role-art": assert.AnError}

	r := tb.dispatch(t, selfRoleSelectInteraction(testMember(testUserID, 0), "role-art"))
	assert.Contains(t, lastReply(t, r).Content, noticeGeneric)
}

func TestSelfRoles_Remove(t *testing.T) {
	tb := newTestBot(t)
	role := &discordgo.Role{ID: "role-art", Name: "Artists"}

	r := tb.dispatch(t, selfRoleCommand(commandSelfRoleRemove, role))
	assert.Contains(t, lastReply(t, r).Content, "is not a self-role")

	addSelfRole(t, tb, role.ID, role.Name, "")
	r = tb.dispatch(t, selfRoleCommand(commandSelfRoleRemove, role))
	require.Len(t, lastReply(t, r).Embeds, 1)
	assert.Equal(t, "🗑️ Self-Role Removed", lastReply(t, r).Embeds[0].Title)

	r = tb.dispatch(t, selfRoleSelectInteraction(testMember(testUserID, 0), role.ID))
	assert.Contains(t, lastReply(t, r).Content, "No self-roles are configured")
	assert.Empty(t, tb.session.roleAdds)
}
