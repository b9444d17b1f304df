// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatwire command line.
//
// Commands:
//
//	chat          interactive session with slash commands
//	send          one question, answer on stdout
//	history       page through a session's stored messages
//	stats         usage statistics for a period
//	sql           SQL preview for a question
//	transcript    list, show or delete locally recorded sessions
//	serve         run the in-memory stub backend
//	config        show, locate or write the configuration file
//
// Every command resolves configuration in PersistentPreRunE: the TOML file,
// then .env and CHATWIRE_* variables, then explicitly set flags.
package cli
