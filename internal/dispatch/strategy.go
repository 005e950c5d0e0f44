package dispatch

import (
	"fmt"

	"github.com/kossa56/Jamnik/internal/models"
)

// Strategy как команда превращается в удаленный вызов
type Strategy interface {
	Name() string
	// Argument короткое имя для журнала
	Argument(order models.Order) string
	Invocation(order models.Order) string
}

// ScriptStrategy вызывает python скрипт на плате с аргументом pan_left и т.п.
type ScriptStrategy struct {
	Interpreter string
	Script      string
}

var scriptArgs = map[models.Command]string{
	models.CommandPanLeft:  "pan_left",
	models.CommandPanRight: "pan_right",
	models.CommandTiltUp:   "tilt_up",
	models.CommandTiltDown: "tilt_down",
}

func (s ScriptStrategy) Name() string { return "script" }

func (s ScriptStrategy) Argument(order models.Order) string {
	return scriptArgs[order.Command]
}

func (s ScriptStrategy) Invocation(order models.Order) string {
	interpreter := s.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	return fmt.Sprintf("%s %s %s", interpreter, s.Script, s.Argument(order))
}

// PipeStrategy пишет токен в именованный канал, который читает демон на плате
type PipeStrategy struct {
	FIFO string
}

var pipeTokens = map[models.Actuator]map[models.Command]string{
	models.ActuatorCamera: {
		models.CommandPanLeft:  "CAM_LEFT",
		models.CommandPanRight: "CAM_RIGHT",
		models.CommandTiltUp:   "LASER_UP",
		models.CommandTiltDown: "LASER_DOWN",
	},
	models.ActuatorLaser: {
		models.CommandPanLeft:  "LASER_LEFT",
		models.CommandPanRight: "LASER_RIGHT",
		models.CommandTiltUp:   "LASER_UP",
		models.CommandTiltDown: "LASER_DOWN",
	},
}

func (p PipeStrategy) Name() string { return "pipe" }

func (p PipeStrategy) Argument(order models.Order) string {
	tokens, ok := pipeTokens[order.Actuator]
	if !ok {
		tokens = pipeTokens[models.ActuatorCamera]
	}
	return tokens[order.Command]
}

func (p PipeStrategy) Invocation(order models.Order) string {
	return fmt.Sprintf("echo %s > %s", p.Argument(order), p.FIFO)
}

// NewStrategy выбор схемы по конфигу
func NewStrategy(scheme, script, fifo string) (Strategy, error) {
	switch scheme {
	case "", "script":
		return ScriptStrategy{Interpreter: "python3", Script: script}, nil
	case "pipe":
		return PipeStrategy{FIFO: fifo}, nil
	default:
		return nil, fmt.Errorf("unknown pan-tilt scheme %q", scheme)
	}
}
