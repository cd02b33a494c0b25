// Package creatives implements a Discord community bot with an
// OpenAI-backed chat assistant, support tickets, moderation and leveling.
//
// Interactions arrive either over the Discord gateway or, optionally,
// through the HTTP interactions endpoint. Both paths feed the same
// Dispatcher, which takes a lease on the interaction, acknowledges it,
// routes it to a handler and guarantees it ends up either answered or
// failed with a notice to the user.
//
// Main components:
//
//   - Bot: owns configuration, storage, the Discord session and the
//     background scheduler.
//   - Dispatcher and Interaction: routing and the per-interaction
//     response state machine.
//   - LockManager: short-lived leases that keep duplicate events from
//     being processed twice.
//   - RateLimiter: per-user cooldowns for chat, tickets and commands.
//   - ConversationMemory: bounded per-user chat history used to build
//     the LLM prompt.
//   - API: an authenticated admin HTTP API for guild settings, tickets,
//     warnings and bot state.
//
// Slash commands:
//
//   - /ai-*: configure and use the AI assistant, including games.
//   - /ticket, /ticket-setup: support tickets.
//   - /warn, /warnings, /automod, /disable-command, /enable-command:
//     moderation.
//   - /rank, /leaderboard: leveling.
//
// Persistence uses gorm with either sqlite or postgres. With postgres,
// settings changes made by one instance are pushed to the others via
// LISTEN/NOTIFY.
package creatives
