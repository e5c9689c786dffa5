// recommender-service ingests job postings from registered sources, keeps
// them deduplicated in PostgreSQL or SQLite and ranks them against a resume.
//
// Commands:
//   - serve      HTTP API plus cron-driven scans of every enabled source
//   - scan       one-off scan of some or all sources
//   - sources    list, add and update job sources
//   - recommend  rank postings for a resume from the command line
//   - tokens     issue, list and revoke API tokens
//   - audit      show recent audit events
//   - version
package main

import (
	"os"

	"jobmate/recommender-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
