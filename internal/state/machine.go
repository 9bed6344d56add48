package state

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/regnido/regnido/internal/models"
)

// 在场状态常量
const (
	StateOutside = "outside"
	StateInside  = "inside"
)

// 事件常量
const (
	EventCheckIn  = "check_in"
	EventCheckOut = "check_out"
)

// Machine 单个 (儿童, 站点) 的在场状态机
type Machine struct {
	fsm *fsm.FSM
}

// NewMachine 从初始状态创建状态机
func NewMachine(initialState string) *Machine {
	if initialState == "" {
		initialState = StateOutside
	}

	m := &Machine{}
	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventCheckIn, Src: []string{StateOutside}, Dst: StateInside},
			{Name: EventCheckOut, Src: []string{StateInside}, Dst: StateOutside},
		},
		fsm.Callbacks{},
	)
	return m
}

// FromLastEvent 根据最后一个已接受事件推导当前状态
func FromLastEvent(last *models.PresenceEvent) string {
	if last == nil || last.EventType == models.EventCheckOut {
		return StateOutside
	}
	return StateInside
}

// Current 获取当前状态
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Can 检查是否允许触发事件
func (m *Machine) Can(event string) bool {
	return m.fsm.Can(event)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// TransitionEvent 把事件类型映射为状态机事件
func TransitionEvent(eventType string) (string, error) {
	switch eventType {
	case models.EventCheckIn:
		return EventCheckIn, nil
	case models.EventCheckOut:
		return EventCheckOut, nil
	default:
		return "", fmt.Errorf("unknown event type %q", eventType)
	}
}
