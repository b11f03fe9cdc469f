package server

import "github.com/stephnangue/wopihost/config"

// devConfig is the configuration used by --dev: in-memory content,
// open access, a local listener, and a Collabora instance on its
// default port.
func devConfig() *config.Config {
	return &config.Config{
		LogLevel:  "debug",
		LogFormat: "default",
		Listeners: []config.ListenerBlock{
			{Name: "dev", Address: "127.0.0.1:8980"},
		},
		Wopi: &config.WopiBlock{
			ServerURL: "http://localhost:9980",
			Enabled:   true,
		},
		Storage: &config.StorageBlock{Type: "inmem"},
		Rights:  &config.RightsBlock{Type: "open"},
	}
}
