package domain

import (
	"sync"

	"github.com/95ykf/PhoneBar/internal/event"
)

// AgentConfigChange is the payload of TopicAgentConfigChange.
type AgentConfigChange struct {
	Key   string
	Value any
}

// AgentConfig holds the agent's runtime preferences. Setters publish a
// change notification only when the value actually changed.
type AgentConfig struct {
	mutex sync.RWMutex
	bus   *event.Bus

	// tipTime is the reminder interval in minutes; 0 disables reminders.
	tipTime int
	// autoReadyAfterWork is tri-state: nil defers to the server's setting.
	autoReadyAfterWork *bool
	// maxAfterWorkTime is the wrap-up duration in seconds before the agent
	// goes ready automatically; 0 disables.
	maxAfterWorkTime int
	autoReadyOnLogin bool
	phoneTakeAlong   bool
	workPhone        string
	autoAnswer       bool
}

type AgentConfigParams struct {
	TipTime            int
	AutoReadyAfterWork *bool
	MaxAfterWorkTime   int
	AutoReadyOnLogin   bool
	PhoneTakeAlong     bool
	WorkPhone          string
	AutoAnswer         bool
	Bus                *event.Bus
}

func NewAgentConfig(p AgentConfigParams) *AgentConfig {
	return &AgentConfig{
		tipTime:            p.TipTime,
		autoReadyAfterWork: p.AutoReadyAfterWork,
		maxAfterWorkTime:   p.MaxAfterWorkTime,
		autoReadyOnLogin:   p.AutoReadyOnLogin,
		phoneTakeAlong:     p.PhoneTakeAlong,
		workPhone:          p.WorkPhone,
		autoAnswer:         p.AutoAnswer,
		bus:                p.Bus,
	}
}

func (c *AgentConfig) publish(key string, value any) {
	if c.bus != nil {
		c.bus.Publish(TopicAgentConfigChange, AgentConfigChange{Key: key, Value: value})
	}
}

func (c *AgentConfig) TipTime() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.tipTime
}

func (c *AgentConfig) SetTipTime(minutes int) {
	c.mutex.Lock()
	if c.tipTime == minutes {
		c.mutex.Unlock()
		return
	}
	c.tipTime = minutes
	c.mutex.Unlock()
	c.publish("tipTime", minutes)
}

// AutoReadyAfterWork returns (value, configured). When configured is false
// the server-side setting applies.
func (c *AgentConfig) AutoReadyAfterWork() (bool, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.autoReadyAfterWork == nil {
		return false, false
	}
	return *c.autoReadyAfterWork, true
}

func (c *AgentConfig) SetAutoReadyAfterWork(enabled bool) {
	c.mutex.Lock()
	if c.autoReadyAfterWork != nil && *c.autoReadyAfterWork == enabled {
		c.mutex.Unlock()
		return
	}
	c.autoReadyAfterWork = &enabled
	c.mutex.Unlock()
	c.publish("autoReadyAfterWork", enabled)
}

func (c *AgentConfig) MaxAfterWorkTime() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.maxAfterWorkTime
}

func (c *AgentConfig) SetMaxAfterWorkTime(seconds int) {
	c.mutex.Lock()
	if c.maxAfterWorkTime == seconds {
		c.mutex.Unlock()
		return
	}
	c.maxAfterWorkTime = seconds
	c.mutex.Unlock()
	c.publish("maxAfterWorkTime", seconds)
}

func (c *AgentConfig) AutoReadyOnLogin() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.autoReadyOnLogin
}

func (c *AgentConfig) SetAutoReadyOnLogin(enabled bool) {
	c.mutex.Lock()
	if c.autoReadyOnLogin == enabled {
		c.mutex.Unlock()
		return
	}
	c.autoReadyOnLogin = enabled
	c.mutex.Unlock()
	c.publish("autoReadyOnLogin", enabled)
}

func (c *AgentConfig) PhoneTakeAlong() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.phoneTakeAlong
}

func (c *AgentConfig) SetPhoneTakeAlong(enabled bool) {
	c.mutex.Lock()
	if c.phoneTakeAlong == enabled {
		c.mutex.Unlock()
		return
	}
	c.phoneTakeAlong = enabled
	c.mutex.Unlock()
	c.publish("phoneTakeAlong", enabled)
}

func (c *AgentConfig) WorkPhone() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.workPhone
}

func (c *AgentConfig) SetWorkPhone(number string) {
	c.mutex.Lock()
	if c.workPhone == number {
		c.mutex.Unlock()
		return
	}
	c.workPhone = number
	c.mutex.Unlock()
	c.publish("workPhone", number)
}

func (c *AgentConfig) AutoAnswer() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.autoAnswer
}

func (c *AgentConfig) SetAutoAnswer(enabled bool) {
	c.mutex.Lock()
	if c.autoAnswer == enabled {
		c.mutex.Unlock()
		return
	}
	c.autoAnswer = enabled
	c.mutex.Unlock()
	c.publish("autoAnswer", enabled)
}
