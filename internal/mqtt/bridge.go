//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/store"
)

const (
	defaultPollInterval = 30 * time.Second
	requestTimeout      = 10 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	PollInterval    time.Duration
}

// Controller is the accessory surface the bridge drives.
type Controller interface {
	Accessories() []*store.Accessory
	Read(ctx context.Context, accessoryID string, q capability.Query) (cloud.Reading, error)
	Write(ctx context.Context, accessoryID string, q capability.Query, value cloud.Value) error
	Events() *coordinator.EventBus
}

// Bridge exposes registered accessories over MQTT with HA autodiscovery.
type Bridge struct {
	client          pahomqtt.Client
	ctrl            Controller
	prefix          string
	discoveryPrefix string
	pollInterval    time.Duration
	logger          *slog.Logger
	unsub           func()
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup

	mu    sync.Mutex
	plans map[string]*plan // accessory id -> published plan
}

func newBridge(client pahomqtt.Client, ctrl Controller, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "hubspace"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:          client,
		ctrl:            ctrl,
		prefix:          cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		pollInterval:    cfg.PollInterval,
		logger:          logger.With("component", "mqtt"),
		ctx:             ctx,
		cancel:          cancel,
		plans:           make(map[string]*plan),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, ctrl, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("hubspace-go-home").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAll()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to accessory lifecycle events and begins polling state.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Events().On(b.handleEvent,
		coordinator.EventAccessoryCreated,
		coordinator.EventAccessoryUpdated,
		coordinator.EventAccessoryRemoved,
	)
	b.wg.Add(1)
	go b.pollLoop()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "poll_interval", b.pollInterval)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.wg.Wait()
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	acc, ok := event.Data.(*store.Accessory)
	if !ok {
		return
	}
	switch event.Type {
	case coordinator.EventAccessoryCreated, coordinator.EventAccessoryUpdated:
		b.publishAccessory(acc)
	case coordinator.EventAccessoryRemoved:
		b.removeAccessory(acc.ID)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAll() {
	for _, acc := range b.ctrl.Accessories() {
		b.publishAccessory(acc)
	}
}

// publishAccessory publishes discovery for an accessory and subscribes to its
// command topics, retracting entities a previous plan had that the new one
// does not.
func (b *Bridge) publishAccessory(acc *store.Accessory) {
	p := buildPlan(acc, b.prefix, b.discoveryPrefix)
	if p == nil {
		return
	}

	b.mu.Lock()
	prev := b.plans[acc.ID]
	b.plans[acc.ID] = p
	b.mu.Unlock()

	if prev != nil {
		current := make(map[string]bool, len(p.Discovery))
		for _, m := range p.Discovery {
			current[m.Topic] = true
		}
		for _, m := range buildRemoveDiscovery(prev) {
			if !current[m.Topic] {
				b.publish(m.Topic, m.Payload, true)
			}
		}
		if prev.Topic != p.Topic {
			b.client.Unsubscribe(prev.Topic + "/+/set")
		}
	}

	for _, m := range p.Discovery {
		b.publish(m.Topic, m.Payload, true)
	}
	b.subscribeCommands(p)
	b.logger.Info("published HA discovery", "accessory", acc.Name, "entities", len(p.Discovery))
}

func (b *Bridge) removeAccessory(id string) {
	b.mu.Lock()
	p := b.plans[id]
	delete(b.plans, id)
	b.mu.Unlock()
	if p == nil {
		return
	}

	for _, m := range buildRemoveDiscovery(p) {
		b.publish(m.Topic, m.Payload, true)
	}
	b.publish(p.availabilityTopic(), nil, true)
	b.client.Unsubscribe(p.Topic + "/+/set")
	b.logger.Info("removed HA discovery", "accessory", p.Name)
}

func (b *Bridge) subscribeCommands(p *plan) {
	base := p.Topic + "/"
	accessoryID := p.AccessoryID
	b.client.Subscribe(base+"+/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		surfaceID := strings.TrimSuffix(strings.TrimPrefix(msg.Topic(), base), "/set")
		b.handleCommand(accessoryID, surfaceID, msg.Payload())
	})
}

func (b *Bridge) lookup(accessoryID, surfaceID string) (*plan, binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.plans[accessoryID]
	if !ok {
		return nil, binding{}, false
	}
	bnd, ok := p.Bindings[surfaceID]
	return p, bnd, ok
}

func (b *Bridge) handleCommand(accessoryID, surfaceID string, payload []byte) {
	p, bnd, ok := b.lookup(accessoryID, surfaceID)
	if !ok {
		b.logger.Warn("command for unknown surface", "accessory", accessoryID, "surface", surfaceID)
		return
	}

	value, err := commandValue(bnd.Kind, payload)
	if err != nil {
		b.logger.Warn("invalid command", "accessory", p.Name, "surface", surfaceID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	if err := b.ctrl.Write(ctx, accessoryID, bnd.Surface.Query(), value); err != nil {
		b.logger.Warn("command failed", "accessory", p.Name, "surface", surfaceID, "err", err)
		return
	}

	// Echo the written value so HA does not wait for the next poll.
	raw, err := value.Encode()
	if err != nil {
		return
	}
	b.publishState(p, surfaceID, bnd, cloud.Reading{Status: cloud.Present, Key: bnd.Surface.Key, Raw: raw})
}

func (b *Bridge) pollLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	b.pollAll()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.pollAll()
		}
	}
}

func (b *Bridge) pollAll() {
	b.mu.Lock()
	plans := make([]*plan, 0, len(b.plans))
	for _, p := range b.plans {
		plans = append(plans, p)
	}
	b.mu.Unlock()

	for _, p := range plans {
		if b.ctx.Err() != nil {
			return
		}
		b.pollAccessory(p)
	}
}

// pollAccessory reads every bound surface and publishes its state. An
// unavailable device marks the accessory offline and stops the pass.
func (b *Bridge) pollAccessory(p *plan) {
	online := false
	for id, bnd := range p.Bindings {
		ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
		reading, err := b.ctrl.Read(ctx, p.AccessoryID, bnd.Surface.Query())
		cancel()
		if err != nil {
			if errors.Is(err, coordinator.ErrAccessoryNotFound) {
				return
			}
			b.logger.Debug("poll read failed", "accessory", p.Name, "surface", id, "err", err)
			continue
		}
		if reading.Status == cloud.Unavailable {
			b.publish(p.availabilityTopic(), []byte("offline"), true)
			return
		}
		online = true
		b.publishState(p, id, bnd, reading)
	}
	if online {
		b.publish(p.availabilityTopic(), []byte("online"), true)
	}
}

func (b *Bridge) publishState(p *plan, surfaceID string, bnd binding, reading cloud.Reading) {
	text, ok := stateText(bnd.Kind, reading)
	if !ok {
		return
	}
	topic := p.Topic + "/" + surfaceID
	b.publish(topic, []byte(text), true)

	if bnd.Surface.Capability == capability.BatteryLevel {
		n, _ := reading.Integer()
		low := payloadOff
		if batteryLow(n) {
			low = payloadOn
		}
		b.publish(topic+"/low", []byte(low), true)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
