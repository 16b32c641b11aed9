package events

// PublishServerCreated records a provisioned server.
func PublishServerCreated(serverID, owner, serverType string, port int) {
	GetEventBus().Publish(Event{
		Type:     EventServerCreated,
		Source:   "server_service",
		ServerID: serverID,
		Owner:    owner,
		Data: map[string]interface{}{
			"server_type": serverType,
			"port":        port,
		},
	})
}

// PublishServerDeleted records a teardown, complete or partial.
func PublishServerDeleted(serverID, owner string, complete bool) {
	GetEventBus().Publish(Event{
		Type:     EventServerDeleted,
		Source:   "server_service",
		ServerID: serverID,
		Owner:    owner,
		Data: map[string]interface{}{
			"complete": complete,
		},
	})
}

func PublishServerStarted(serverID, owner string) {
	GetEventBus().Publish(Event{
		Type:     EventServerStarted,
		Source:   "server_service",
		ServerID: serverID,
		Owner:    owner,
	})
}

func PublishServerStopped(serverID, owner string) {
	GetEventBus().Publish(Event{
		Type:     EventServerStopped,
		Source:   "server_service",
		ServerID: serverID,
		Owner:    owner,
	})
}

// PublishServerRedeployed records a stack recreated by the reconciler
// after its container went missing.
func PublishServerRedeployed(serverID string) {
	GetEventBus().Publish(Event{
		Type:     EventServerRedeployed,
		Source:   "proxy_reconciler",
		ServerID: serverID,
	})
}

func PublishPortAllocated(serverID, owner string, port, rconPort int) {
	GetEventBus().Publish(Event{
		Type:     EventPortAllocated,
		Source:   "port_arbiter",
		ServerID: serverID,
		Owner:    owner,
		Data: map[string]interface{}{
			"port":      port,
			"rcon_port": rconPort,
		},
	})
}

func PublishDNSPublished(serverID, subdomain string, port int) {
	GetEventBus().Publish(Event{
		Type:     EventDNSPublished,
		Source:   "server_service",
		ServerID: serverID,
		Data: map[string]interface{}{
			"subdomain": subdomain,
			"port":      port,
		},
	})
}

// PublishDNSRetried records a deferred SRV publication that finally
// succeeded during a reconciler pass.
func PublishDNSRetried(serverID, subdomain string) {
	GetEventBus().Publish(Event{
		Type:     EventDNSRetried,
		Source:   "proxy_reconciler",
		ServerID: serverID,
		Data: map[string]interface{}{
			"subdomain": subdomain,
		},
	})
}

func PublishProxyReconciled(trigger string, healthy, total int) {
	GetEventBus().Publish(Event{
		Type:   EventProxyReconciled,
		Source: "proxy_reconciler",
		Data: map[string]interface{}{
			"trigger": trigger,
			"healthy": healthy,
			"total":   total,
		},
	})
}

func PublishUserRegistered(owner string) {
	GetEventBus().Publish(Event{
		Type:   EventUserRegistered,
		Source: "auth_service",
		Owner:  owner,
	})
}
