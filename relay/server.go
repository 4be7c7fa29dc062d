package relay

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

// Welcome is the payload sent verbatim as the "welcome" field of every
// new connection's greeting, per spec.md §4.5's connection-open step.
type Welcome struct {
	MOTD              string `json:"motd,omitempty"`
	CurrentCLIVersion string `json:"current_cli_version,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Server is the top-level registry of AppNamespaces, one per observed
// app_id, backed by a shared channel store and an optional shared
// usage store. AppNamespaces are created lazily on first use and
// dropped again once a pruning pass finds them empty.
type Server struct {
	store     *store.ChannelStore
	usage     *store.UsageStore
	welcome   Welcome
	blurUsage int64
	allowList bool

	mu   sync.Mutex
	apps map[string]*AppNamespace
}

// NewServer wires a Server over an already-open channel store and an
// optional usage store. allowList controls whether the "list
// nameplates" command is honored (spec.md §4.5's `list` message,
// §6's --disallow-list flag).
func NewServer(cs *store.ChannelStore, us *store.UsageStore, welcome Welcome, blurUsage int64, allowList bool) *Server {
	return &Server{
		store:     cs,
		usage:     us,
		welcome:   welcome,
		blurUsage: blurUsage,
		allowList: allowList,
		apps:      make(map[string]*AppNamespace),
	}
}

// GetWelcome returns the greeting payload advertised to every new
// connection.
func (srv *Server) GetWelcome() Welcome {
	return srv.welcome
}

// AllowList reports whether nameplate listing is permitted.
func (srv *Server) AllowList() bool {
	return srv.allowList
}

// GetApp returns the AppNamespace for appID, spawning it (with its own
// PRNG seeded independently per namespace) on first reference.
func (srv *Server) GetApp(appID string) *AppNamespace {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	app, ok := srv.apps[appID]
	if !ok {
		app = newAppNamespace(appID, srv.store, srv.usage, srv.blurUsage, rand.New(rand.NewSource(time.Now().UnixNano())))
		srv.apps[appID] = app
	}
	return app
}

// getAllAppIDs unions the apps currently held in memory with every
// app_id that still has a row in the channel database, so a pruning
// pass can reap channels belonging to apps nothing is presently
// holding a reference to.
func (srv *Server) getAllAppIDs() ([]string, error) {
	dbIDs, err := srv.store.GetAllAppIDs(srv.store.DB())
	if err != nil {
		return nil, err
	}

	srv.mu.Lock()
	seen := make(map[string]bool, len(dbIDs))
	for _, id := range dbIDs {
		seen[id] = true
	}
	for id := range srv.apps {
		seen[id] = true
	}
	srv.mu.Unlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// PruneAllApps runs AppNamespace.Prune over every known app, dropping
// the in-memory AppNamespace for any app that comes back unused.
func (srv *Server) PruneAllApps(now, old int64) error {
	appIDs, err := srv.getAllAppIDs()
	if err != nil {
		return err
	}

	for _, appID := range appIDs {
		app := srv.GetApp(appID)
		inUse, err := app.Prune(now, old)
		if err != nil {
			return err
		}
		if !inUse {
			srv.mu.Lock()
			delete(srv.apps, appID)
			srv.mu.Unlock()
		}
	}
	return nil
}

// AppCount returns the number of AppNamespaces currently registered,
// for the metrics exporter's apps_live gauge.
func (srv *Server) AppCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.apps)
}

// MailboxCount sums the number of in-memory Mailbox objects across
// every registered AppNamespace, for the metrics exporter's
// mailboxes_live gauge.
func (srv *Server) MailboxCount() int {
	srv.mu.Lock()
	apps := make([]*AppNamespace, 0, len(srv.apps))
	for _, app := range srv.apps {
		apps = append(apps, app)
	}
	srv.mu.Unlock()

	total := 0
	for _, app := range apps {
		total += len(app.liveMailboxes())
	}
	return total
}

// ConnectionsWebsocket exposes countListeners for the metrics
// exporter's connections_websocket gauge.
func (srv *Server) ConnectionsWebsocket() int {
	return srv.countListeners()
}

// countListeners sums active listener counts across every live
// AppNamespace, the "connections_websocket" figure dump_stats records.
func (srv *Server) countListeners() int {
	srv.mu.Lock()
	apps := make([]*AppNamespace, 0, len(srv.apps))
	for _, app := range srv.apps {
		apps = append(apps, app)
	}
	srv.mu.Unlock()

	total := 0
	for _, app := range apps {
		for _, m := range app.liveMailboxes() {
			total += m.ListenerCount()
		}
	}
	return total
}

// DumpStats writes the single current-status row to the usage store.
// It is a silent no-op when no usage store is configured.
func (srv *Server) DumpStats(now, rebooted int64) error {
	if srv.usage == nil {
		return nil
	}
	tx, err := srv.usage.Begin()
	if err != nil {
		return err
	}
	rec := store.CurrentStats{
		Rebooted:             rebooted,
		Updated:              now,
		BlurTime:             srv.blurUsage,
		ConnectionsWebsocket: srv.countListeners(),
	}
	if err := srv.usage.SetCurrent(tx, rec); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Shutdown invokes the Stop callback of every listener across every
// live AppNamespace and clears the listener sets. It does not close
// any connection itself; the effect of Stop is whatever the
// registering handler made it (conn.Dispatcher only forgets its
// listener handle).
func (srv *Server) Shutdown() {
	srv.mu.Lock()
	apps := make([]*AppNamespace, 0, len(srv.apps))
	for _, app := range srv.apps {
		apps = append(apps, app)
	}
	srv.mu.Unlock()

	for _, app := range apps {
		for _, m := range app.liveMailboxes() {
			m.mu.Lock()
			for _, l := range m.listeners {
				l.Stop()
			}
			m.listeners = make(map[string]Listener)
			m.mu.Unlock()
		}
	}
}
