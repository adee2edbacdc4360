/*
main.go - Application entry point

PURPOSE:

	The recon command. Runs the reconciliation HTTP server or reconciles
	invoice and voucher JSON files offline.

COMMANDS:

	recon serve    HTTP API backed by SQLite, with a periodic audit
	recon report   Reconcile JSON files and print invoice aggregates

CONFIGURATION (later wins):

	defaults < config.toml < .env < RECON_* environment < flags
	See config/config.go for the keys.

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (http.shutdown_timeout)
	3. Stop the audit and close the database
	4. Exit

EXAMPLES:

	# Run with file database
	recon serve --db ./data/recon.db

	# Run with in-memory database on another port
	recon serve --db :memory: --port 3000

	# Offline report for one vendor
	recon report --invoices invoices.json --vouchers vouchers.json --party vendor-acme

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
