// Package commands defines the cardshop CLI and wires dependencies for subcommands.
//
// Commands
//
//   - aggregate  Build the cross-shop view of a shopping list once
//   - seed       Load card metadata documents into the store
//   - watch      Re-run aggregate on a cron schedule until interrupted
//
// # Implementation
//
// The root command loads configuration from CARDSHOP_* variables (and an
// optional .env file), initialises the logger and builds the store, the
// marketplace client and the aggregator before any subcommand runs.
package commands
