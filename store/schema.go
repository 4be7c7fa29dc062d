package store

// ChannelSchemaVersion is the current schema version this binary
// expects the channel database to be at.
const ChannelSchemaVersion = 1

// UsageSchemaVersion is the current schema version this binary
// expects the usage database to be at.
const UsageSchemaVersion = 1

const channelSchemaV1 = `
CREATE TABLE version (
	version INTEGER NOT NULL
);

CREATE TABLE mailboxes (
	app_id VARCHAR,
	id VARCHAR PRIMARY KEY,
	updated INTEGER,
	for_nameplate BOOLEAN
);
CREATE UNIQUE INDEX idx_mailboxes ON mailboxes (app_id, id);

CREATE TABLE mailbox_sides (
	mailbox_id VARCHAR REFERENCES mailboxes(id),
	opened BOOLEAN,
	side VARCHAR,
	added INTEGER,
	mood VARCHAR
);
CREATE INDEX idx_mailbox_sides ON mailbox_sides (mailbox_id);

CREATE TABLE messages (
	app_id VARCHAR,
	mailbox_id VARCHAR REFERENCES mailboxes(id),
	side VARCHAR,
	phase VARCHAR,
	body VARCHAR,
	server_rx INTEGER,
	msg_id VARCHAR
);
CREATE INDEX idx_messages ON messages (app_id, mailbox_id);

CREATE TABLE nameplates (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	app_id VARCHAR,
	name VARCHAR,
	mailbox_id VARCHAR REFERENCES mailboxes(id)
);
CREATE INDEX idx_nameplates ON nameplates (app_id, name);
CREATE INDEX idx_nameplates_mailbox ON nameplates (app_id, mailbox_id);

CREATE TABLE nameplate_sides (
	nameplates_id INTEGER REFERENCES nameplates(id) NOT NULL,
	claimed BOOLEAN,
	side VARCHAR,
	added INTEGER
);
CREATE INDEX idx_nameplate_sides ON nameplate_sides (nameplates_id, side);
`

const usageSchemaV1 = `
CREATE TABLE version (
	version INTEGER NOT NULL
);

CREATE TABLE nameplates (
	app_id VARCHAR,
	started INTEGER,
	total_time INTEGER,
	waiting_time INTEGER,
	result VARCHAR
);

CREATE TABLE mailboxes (
	app_id VARCHAR,
	for_nameplate BOOLEAN,
	started INTEGER,
	total_time INTEGER,
	waiting_time INTEGER,
	result VARCHAR
);

CREATE TABLE client_versions (
	app_id VARCHAR,
	side VARCHAR,
	implementation VARCHAR,
	version VARCHAR,
	connect_time INTEGER
);

CREATE TABLE current (
	rebooted INTEGER,
	updated INTEGER,
	blur_time INTEGER,
	connections_websocket INTEGER
);
`

// channelUpgraders maps the version being upgraded *to* to the script
// that performs it. Forward-only, one step at a time, matching the
// original server's upgrade-<name>-to-vN.sql convention. Empty until a
// v2 schema is actually shipped.
var channelUpgraders = map[int]string{}

var usageUpgraders = map[int]string{}
