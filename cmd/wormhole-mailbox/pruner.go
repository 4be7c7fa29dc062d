package main

import (
	"time"

	"github.com/chris-pikul/wormhole-mailbox-server/log"
	"github.com/chris-pikul/wormhole-mailbox-server/metrics"
	"github.com/chris-pikul/wormhole-mailbox-server/relay"
)

// runPruning drives the fixed-period sweep described in spec.md §5:
// every interval seconds, every app's channels older than old seconds
// are collected. It runs until stop is closed.
func runPruning(srv *relay.Server, interval, old uint, rebooted int64, stop <-chan struct{}) {
	if interval == 0 {
		log.Warn("prune interval is zero, pruning disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			now := t.Unix()
			if err := srv.PruneAllApps(now, now-int64(old)); err != nil {
				log.Errorf("prune pass failed: %s", err.Error())
				continue
			}
			metrics.PruneRuns.Inc()
			metrics.Mailboxes.Set(float64(srv.MailboxCount()))
			metrics.Apps.Set(float64(srv.AppCount()))
			metrics.ConnectionsWebsocket.Set(float64(srv.ConnectionsWebsocket()))

			if err := srv.DumpStats(now, rebooted); err != nil {
				log.Errorf("failed to write usage stats: %s", err.Error())
			}
		}
	}
}
