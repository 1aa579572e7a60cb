// Package scheduler triggers the poll cycle on a cron or interval schedule.
//
// Only one run is ever in flight: a trigger that fires while the previous
// run is still going is skipped, not queued.
package scheduler
