// Package controller adapts a titanconn.Connection to a control-surface host: it exposes the
// preset_recall action, the preset_loaded feedback and the preset_number, group_number and
// connection_state variables, and reconnects when the configured host changes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-titan/logger"
	"github.com/arloliu/go-titan/titan"
	"github.com/arloliu/go-titan/titanconn"
)

var (
	// ErrNotInitialized is returned when the controller is used before Init.
	ErrNotInitialized = errors.New("controller: not initialized")

	// ErrUnknownAction is returned by ExecuteAction for an unregistered action id.
	ErrUnknownAction = errors.New("controller: unknown action")

	// ErrUnknownFeedback is returned by CheckFeedback for an unregistered feedback id.
	ErrUnknownFeedback = errors.New("controller: unknown feedback")
)

// Config is the user configuration of a controller instance.
type Config struct {
	// Host is the device IP address.
	Host string `yaml:"host"`
	// Port is the device TCP port; 0 selects 20036.
	Port int `yaml:"port"`
}

// FeedbackListener is notified when feedbacks may have changed and should be re-evaluated.
type FeedbackListener func(feedbackIDs ...string)

// Controller owns one device connection and the action, feedback and variable registries.
type Controller struct {
	logger   logger.Logger
	connOpts []titanconn.ConnOption

	mu   sync.Mutex
	cfg  Config
	conn *titanconn.Connection

	status    atomic.Uint32
	vars      *xsync.MapOf[string, any]
	actions   map[string]*ActionDefinition
	feedbacks map[string]*FeedbackDefinition

	listenerMu sync.RWMutex
	listeners  []FeedbackListener
}

// New creates a controller. opts are applied to every connection it creates.
func New(l logger.Logger, opts ...titanconn.ConnOption) *Controller {
	if l == nil {
		l = logger.GetLogger()
	}

	c := &Controller{
		logger:    l,
		connOpts:  append([]titanconn.ConnOption{titanconn.WithLogger(l)}, opts...),
		vars:      xsync.NewMapOf[string, any](),
		actions:   make(map[string]*ActionDefinition),
		feedbacks: make(map[string]*FeedbackDefinition),
	}

	for _, def := range c.actionDefinitions() {
		c.actions[def.ID] = def
	}
	for _, def := range c.feedbackDefinitions() {
		c.feedbacks[def.ID] = def
	}

	return c
}

// Init applies cfg, publishes the initial variable values and starts connecting to the device.
// A connection failure is reflected in Status and the connection_state variable, it is not
// returned; an invalid configuration is.
func (c *Controller) Init(ctx context.Context, cfg Config) error {
	c.vars.Store(VariablePresetNumber, titan.MinPreset)
	c.vars.Store(VariableGroupNumber, titan.MinGroup)
	c.vars.Store(VariableConnectionState, titan.StatusDisconnected.String())

	connCfg, err := titanconn.NewConnectionConfig(cfg.Host, cfg.Port, c.connOpts...)
	if err != nil {
		c.status.Store(uint32(StatusBadConfig))
		return fmt.Errorf("invalid config: %w", err)
	}

	conn, err := titanconn.NewConnection(ctx, connCfg)
	if err != nil {
		return err
	}
	conn.AddStateHandler(c.connStateHandler)

	c.mu.Lock()
	c.cfg = cfg
	c.conn = conn
	c.mu.Unlock()

	if err := conn.Open(false); err != nil {
		c.logger.Error("failed to connect to device", "host", cfg.Host, "error", err)
	}

	return nil
}

// ConfigUpdated applies a new configuration. The connection is re-established only when the
// host changed.
func (c *Controller) ConfigUpdated(cfg Config) error {
	c.mu.Lock()
	conn := c.conn
	oldCfg := c.cfg
	c.mu.Unlock()

	if conn == nil {
		return ErrNotInitialized
	}

	if cfg.Port != oldCfg.Port {
		c.logger.Warn("device port is fixed, port change ignored", "port", cfg.Port)
		cfg.Port = oldCfg.Port
	}

	if cfg.Host == oldCfg.Host {
		return nil
	}

	if err := titanconn.ValidateHost(cfg.Host); err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()

	c.logger.Info("device host changed, reconnect", "old_host", oldCfg.Host, "new_host", cfg.Host)
	if err := conn.Reconfigure(cfg.Host); err != nil {
		c.logger.Error("failed to connect to device", "host", cfg.Host, "error", err)
	}

	return nil
}

// Destroy closes the device connection.
func (c *Controller) Destroy() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// Status returns the instance status.
func (c *Controller) Status() InstanceStatus {
	return InstanceStatus(c.status.Load())
}

// Connection returns the device connection, or nil before Init.
func (c *Controller) Connection() *titanconn.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

// Config returns the current configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}

// Actions returns the registered action definitions.
func (c *Controller) Actions() []ActionDefinition {
	defs := make([]ActionDefinition, 0, len(c.actions))
	for _, def := range c.actionDefinitions() {
		defs = append(defs, *c.actions[def.ID])
	}

	return defs
}

// Feedbacks returns the registered feedback definitions.
func (c *Controller) Feedbacks() []FeedbackDefinition {
	defs := make([]FeedbackDefinition, 0, len(c.feedbacks))
	for _, def := range c.feedbackDefinitions() {
		defs = append(defs, *c.feedbacks[def.ID])
	}

	return defs
}

// VariableDefinitions returns the published variables.
func (c *Controller) VariableDefinitions() []VariableDefinition {
	return variableDefinitions()
}

// Variable returns the current value of a variable.
func (c *Controller) Variable(id string) (any, bool) {
	return c.vars.Load(id)
}

// Variables returns a snapshot of all variable values.
func (c *Controller) Variables() map[string]any {
	values := make(map[string]any, c.vars.Size())
	c.vars.Range(func(id string, v any) bool {
		values[id] = v
		return true
	})

	return values
}

// AddFeedbackListener adds listeners notified when feedbacks should be re-evaluated.
func (c *Controller) AddFeedbackListener(listeners ...FeedbackListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.listeners = append(c.listeners, listeners...)
}

// ExecuteAction runs the action with the given id. Missing options take their defaults.
func (c *Controller) ExecuteAction(id string, opts Options) error {
	def, ok := c.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}

	resolved, err := resolveOptions(def.Options, opts)
	if err != nil {
		return err
	}

	return def.Callback(resolved)
}

// CheckFeedback evaluates the feedback with the given id.
func (c *Controller) CheckFeedback(id string, opts Options) (bool, error) {
	def, ok := c.feedbacks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownFeedback, id)
	}

	resolved, err := resolveOptions(def.Options, opts)
	if err != nil {
		return false, err
	}

	return def.Callback(resolved), nil
}

// recallPresetAction sends the preset load command. The preset variables are updated even
// when the command was dropped because the device is not connected.
func (c *Controller) recallPresetAction(opts Options) error {
	conn := c.Connection()
	if conn == nil {
		return ErrNotInitialized
	}

	group, preset := opts[OptionGroup], opts[OptionPreset]
	c.logger.Debug("recalling preset", "preset", titan.PresetRef{Group: group, Preset: preset})

	err := conn.RecallPreset(group, preset)
	if err != nil && !errors.Is(err, titan.ErrNotConnected) {
		c.logger.Error("failed to recall preset", "group", group, "preset", preset, "error", err)
		return err
	}

	c.vars.Store(VariablePresetNumber, preset)
	c.vars.Store(VariableGroupNumber, group)
	c.notifyFeedbacks(FeedbackPresetLoaded)

	return err
}

// presetLoadedFeedback reports whether the last recalled preset matches. The device does not
// report the loaded preset, so this only reflects what this instance sent.
func (c *Controller) presetLoadedFeedback(opts Options) bool {
	preset, _ := c.vars.Load(VariablePresetNumber)
	group, _ := c.vars.Load(VariableGroupNumber)

	return preset == opts[OptionPreset] && group == opts[OptionGroup]
}

func (c *Controller) connStateHandler(_ titan.ConnState, curState titan.ConnState) {
	c.status.Store(uint32(instanceStatusOf(curState)))
	c.vars.Store(VariableConnectionState, curState.Status().String())
}

func (c *Controller) notifyFeedbacks(ids ...string) {
	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ids...)
	}
}
