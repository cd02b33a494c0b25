package creatives

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testCategoryID  = "category-1"
	testStaffRoleID = "role-staff"
	testLogChannel  = "chan-log"
)

// setupTickets runs ticket-setup and returns the staff member used.
func setupTickets(t *testing.T, tb *testBot) *discordgo.Member {
	t.Helper()
	tb.session.channels[testCategoryID] = &discordgo.Channel{
		ID:   testCategoryID,
		Type: discordgo.ChannelTypeGuildCategory,
	}
	admin := testMember("admin-1", discordgo.PermissionManageChannels)
	r := tb.dispatch(
		t,
		commandInteraction(
			commandTicketSetup,
			admin,
			channelOption("category", testCategoryID),
			roleOption("staff-role", testStaffRoleID),
			channelOption("log-channel", testLogChannel),
		),
	)
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	require.Equal(t, "✅ Ticket System Configured", reply.Embeds[0].Title)
	return testMember("staff-1", 0, testStaffRoleID)
}

func TestTicketChannelName(t *testing.T) {
	tests := []struct {
		username string
		number   int
		want     string
	}{
		{"Alice", 1, "ticket-0001-alice"},
		{"Bob The_Builder!", 42, "ticket-0042-bobthebuilder"},
		{"日本", 7, "ticket-0007-user"},
		{"a-b-c", 12345, "ticket-12345-a-b-c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ticket{Number: tt.number}.ChannelName(tt.username))
	}
}

func TestTicketSettings_IsStaff(t *testing.T) {
	s := &TicketSettings{StaffRoleIDs: []string{"r1"}}
	assert.False(t, s.IsStaff(nil))
	assert.False(t, s.IsStaff(testMember("u", 0, "r2")))
	assert.True(t, s.IsStaff(testMember("u", 0, "r2", "r1")))
	assert.True(t, s.IsStaff(testMember("u", discordgo.PermissionManageChannels)))
}

func TestTicketPermissionOverwrites(t *testing.T) {
	overwrites := ticketPermissionOverwrites("g1", "u1", "bot", []string{"r1", "r2"})
	require.Len(t, overwrites, 5)
	assert.Equal(t, "g1", overwrites[0].ID)
	assert.Equal(t, int64(discordgo.PermissionViewChannel), overwrites[0].Deny)
	assert.Equal(t, "u1", overwrites[1].ID)
	assert.Equal(t, discordgo.PermissionOverwriteTypeMember, overwrites[1].Type)
	assert.Equal(t, "bot", overwrites[2].ID)
	assert.NotZero(t, overwrites[2].Allow&discordgo.PermissionManageChannels)
	assert.Equal(t, "r2", overwrites[4].ID)

	assert.Len(t, ticketPermissionOverwrites("g1", "u1", "", nil), 2)
}

func TestTickets_NotConfigured(t *testing.T) {
	tb := newTestBot(t)
	r := tb.dispatch(t, commandInteraction(commandTicket, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "not set up")
}

func TestTickets_MissingCategory(t *testing.T) {
	tb := newTestBot(t)
	setupTickets(t, tb)
	delete(tb.session.channels, testCategoryID)

	r := tb.dispatch(t, commandInteraction(commandTicket, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "no longer exists")
	assert.Empty(t, tb.session.created)
}

func TestTickets_Lifecycle(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()
	staff := setupTickets(t, tb)
	owner := testMember(testUserID, 0)

	settings, err := tb.stores.TicketSettings.Get(ctx, Key{"guild_id": testGuildID})
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, testCategoryID, settings.CategoryID)
	assert.Equal(t, []string{testStaffRoleID}, []string(settings.StaffRoleIDs))
	require.Len(t, tb.session.sentTo(testChannelID), 1, "panel posted")

	// open
	r := tb.dispatch(
		t,
		commandInteraction(commandTicket, owner, stringOption("subject", "can't log in")),
	)
	require.Len(t, tb.session.created, 1)
	created := tb.session.created[0]
	assert.Equal(t, "ticket-0001-useruser-1", created.Name)
	assert.Equal(t, testCategoryID, created.ParentID)

	ticket, err := tb.openTicket(ctx, testGuildID, testUserID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, 1, ticket.Number)
	assert.Equal(t, "can't log in", ticket.Subject)
	assert.Equal(t, TicketOpen, ticket.Status)
	assert.Contains(t, lastReply(t, r).Content, "<#"+ticket.ChannelID+">")

	welcome := tb.session.sentTo(ticket.ChannelID)
	require.Len(t, welcome, 1)
	assert.Contains(t, welcome[0].Content, "<@&"+testStaffRoleID+">")
	assert.Len(t, tb.session.sentTo(testLogChannel), 1)

	// a second ticket is refused while the first is open
	r = tb.dispatch(t, componentInteraction(customIDCreateTicket, testChannelID, owner))
	assert.Contains(t, lastReply(t, r).Content, "already have an open ticket")
	assert.Len(t, tb.session.created, 1)

	// only staff can claim
	r = tb.dispatch(t, componentInteraction(customIDClaimTicket, ticket.ChannelID, owner))
	assert.Contains(t, lastReply(t, r).Content, "Only staff members")

	r = tb.dispatch(t, componentInteraction(customIDClaimTicket, ticket.ChannelID, staff))
	reply := lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "🙋 Ticket Claimed", reply.Embeds[0].Title)
	require.Len(t, tb.session.channelEdits[ticket.ChannelID], 1)
	assert.Equal(t, created.Name+ticketClaimedSuffix, tb.session.channelEdits[ticket.ChannelID][0].Name)

	r = tb.dispatch(t, componentInteraction(customIDClaimTicket, ticket.ChannelID, staff))
	assert.Contains(t, lastReply(t, r).Content, "already claimed")

	// close prompt shows the modal
	r = tb.dispatch(t, componentInteraction(customIDCloseTicket, ticket.ChannelID, owner))
	reply = lastReply(t, r)
	require.NotNil(t, reply.Modal)
	assert.Equal(t, customIDCloseTicketModal, reply.Modal.CustomID)

	r = tb.dispatch(
		t,
		modalInteraction(
			customIDCloseTicketModal,
			ticket.ChannelID,
			owner,
			map[string]string{customIDCloseReason: "solved"},
		),
	)
	reply = lastReply(t, r)
	require.Len(t, reply.Embeds, 1)
	assert.Contains(t, reply.Embeds[0].Description, "**Reason:** solved")

	closed, err := tb.stores.Tickets.Get(ctx, Key{"channel_id": ticket.ChannelID})
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, TicketClosed, closed.Status)
	assert.Equal(t, testUserID, closed.ClosedBy)
	assert.Equal(t, "solved", closed.CloseReason)
	assert.Equal(t, staff.User.ID, closed.ClaimedBy)
	assert.Contains(t, tb.session.deletedChannels, ticket.ChannelID)
	assert.Len(t, tb.session.sentTo(testLogChannel), 2)

	logs, err := tb.stores.ModLogs.List(ctx, Filter{Where: map[string]any{"action": string(ModLogTicketClose)}})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	// closed tickets no longer count as open, but the ticket cooldown holds
	open, err := tb.openTicket(ctx, testGuildID, testUserID)
	require.NoError(t, err)
	assert.Nil(t, open)
	r = tb.dispatch(t, commandInteraction(commandTicket, owner))
	assert.Contains(t, lastReply(t, r).Content, "before creating another ticket")

	tb.clock.Advance(tb.config.Cooldowns.Ticket)
	tb.dispatch(t, commandInteraction(commandTicket, owner))
	require.Len(t, tb.session.created, 2)
	assert.Equal(t, "ticket-0002-useruser-1", tb.session.created[1].Name)
}

func TestTickets_CloseRequiresOwnerOrStaff(t *testing.T) {
	tb := newTestBot(t)
	setupTickets(t, tb)
	owner := testMember(testUserID, 0)
	tb.dispatch(t, commandInteraction(commandTicket, owner))
	ticket, err := tb.openTicket(context.Background(), testGuildID, testUserID)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	channelID := ticket.ChannelID

	stranger := testMember("user-2", 0)
	r := tb.dispatch(t, componentInteraction(customIDCloseTicket, channelID, stranger))
	assert.Contains(t, lastReply(t, r).Content, "Only the ticket creator or staff")

	r = tb.dispatch(t, modalInteraction(customIDCloseTicketModal, channelID, stranger, nil))
	assert.Contains(t, lastReply(t, r).Content, "Only the ticket creator or staff")
	assert.Empty(t, tb.session.deletedChannels)
}

func TestTickets_CloseOutsideTicket(t *testing.T) {
	tb := newTestBot(t)
	r := tb.dispatch(t, componentInteraction(customIDCloseTicket, testChannelID, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "only be used in ticket channels")

	r = tb.dispatch(t, modalInteraction(customIDCloseTicketModal, testChannelID, testMember(testUserID, 0), nil))
	assert.Contains(t, lastReply(t, r).Content, "already closed")
}

func TestTickets_ClaimLeaseHeld(t *testing.T) {
	tb := newTestBot(t)
	require.True(t, tb.locks.TryAcquire(ticketLeaseKey(testChannelID)))
	r := tb.dispatch(t, componentInteraction(customIDClaimTicket, testChannelID, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "being updated")
}

func TestTickets_CreateChannelPermissionError(t *testing.T) {
	tb := newTestBot(t)
	setupTickets(t, tb)
	tb.session.createErr = &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: discordCodeMissingPermissions},
	}
	r := tb.dispatch(t, commandInteraction(commandTicket, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, "Manage Channels")
}

func TestTickets_SaveFailureDeletesChannel(t *testing.T) {
	tb := newTestBot(t)
	setupTickets(t, tb)
	require.NoError(
		t,
		tb.db.DB().Callback().Create().Before("gorm:create").Register(
			"test:fail_tickets", func(db *gorm.DB) {
				if db.Statement.Table == "tickets" {
					_ = db.AddError(errors.New("disk I/O error"))
				}
			},
		),
	)

	tb.session.mu.Lock()
	channelsBefore := len(tb.session.channels)
	tb.session.mu.Unlock()

	r := tb.dispatch(t, commandInteraction(commandTicket, testMember(testUserID, 0)))
	assert.Contains(t, lastReply(t, r).Content, noticeGeneric)

	tb.session.mu.Lock()
	defer tb.session.mu.Unlock()
	require.Len(t, tb.session.created, 1)
	assert.Len(t, tb.session.deletedChannels, 1)
	assert.Len(t, tb.session.channels, channelsBefore)
}
