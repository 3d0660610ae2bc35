package server

import (
	"time"

	"pixel-canvas/server/logging"
)

// Defaults matching the original deployment.
const (
	DefaultWidth           = 1000
	DefaultHeight          = 1000
	DefaultBaseCooldown    = 30 * time.Second
	DefaultCooldownScale   = 100
	DefaultMaxBank         = 6
	DefaultPresenceWindow  = 15 * time.Minute
	DefaultSubscriberQueue = 64
	DefaultPersistQueue    = 1024
)

// HubConfig carries everything the hub needs at construction time.
type HubConfig struct {
	Width  int
	Height int

	// BaseCooldown is stretched by the active-participant count:
	// base * (1 + active/CooldownScale).
	BaseCooldown  time.Duration
	CooldownScale int
	MaxBank       int

	PresenceWindow time.Duration

	// SubscriberQueue bounds each observer's event queue. A full queue
	// disconnects that observer (drop-and-resync) instead of stalling
	// publication.
	SubscriberQueue int

	// Persister, when set, receives every state transition after it has
	// been applied in memory. PersistQueue bounds the async hand-off.
	Persister    Persister
	PersistQueue int

	Publisher logging.Publisher
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		BaseCooldown:    DefaultBaseCooldown,
		CooldownScale:   DefaultCooldownScale,
		MaxBank:         DefaultMaxBank,
		PresenceWindow:  DefaultPresenceWindow,
		SubscriberQueue: DefaultSubscriberQueue,
		PersistQueue:    DefaultPersistQueue,
	}
}

func (c HubConfig) withDefaults() HubConfig {
	def := DefaultHubConfig()
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = def.BaseCooldown
	}
	if c.CooldownScale <= 0 {
		c.CooldownScale = def.CooldownScale
	}
	if c.MaxBank < 0 {
		c.MaxBank = def.MaxBank
	}
	if c.PresenceWindow <= 0 {
		c.PresenceWindow = def.PresenceWindow
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = def.SubscriberQueue
	}
	if c.PersistQueue <= 0 {
		c.PersistQueue = def.PersistQueue
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}
