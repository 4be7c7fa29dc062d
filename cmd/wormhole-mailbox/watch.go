package main

import (
	"github.com/fsnotify/fsnotify"

	"github.com/chris-pikul/wormhole-mailbox-server/config"
	"github.com/chris-pikul/wormhole-mailbox-server/log"
)

// watchConfig re-reads the config file named by path whenever it is
// rewritten and copies motd, signal-error, advertise-version,
// blur-usage, and log level into the process-wide configuration held
// by package config. The channel/usage DB paths and listen port are
// never touched here. The running relay.Server keeps the welcome
// payload and blur interval it was built with, and the logger keeps
// the level set by log.Initialize, so a reload does not change what
// clients are sent or what is logged.
func watchConfig(path string, stop <-chan struct{}) {
	if path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("failed to start config watcher: %s", err.Error())
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		log.Warnf("failed to watch config file %s: %s", path, err.Error())
		return
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			reloaded, err := config.ReadOptionsFromFile(path)
			if err != nil {
				log.Warnf("config reload from %s failed, keeping current settings: %s", path, err.Error())
				continue
			}

			config.ReloadRelayFields(reloaded.Relay)
			config.ReloadLogLevel(reloaded.Logging.Level)
			log.Info("reloaded motd/signal-error/advertise-version/blur-usage/log-level from config file")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %s", err.Error())
		}
	}
}
