package models

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

var classIDs = map[string]int{
	"person":     0,
	"car":        2,
	"bird":       14,
	"cat":        15,
	"dog":        16,
	"bottle":     39,
	"cup":        41,
	"chair":      56,
	"cell phone": 67,
}

// ClassID ищет идентификатор класса по имени без учета регистра
func ClassID(name string) (int, bool) {
	id, ok := classIDs[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// ClassName обратный поиск для известных классов
func ClassName(id int) (string, bool) {
	return lo.FindKey(classIDs, id)
}

func ClassNames() []string {
	names := lo.Keys(classIDs)
	sort.Strings(names)
	return names
}

// Action ручное действие оператора
type Action string

const (
	ActionCameraLeft  Action = "camera_left"
	ActionCameraRight Action = "camera_right"
	ActionLaserUp     Action = "laser_up"
	ActionLaserDown   Action = "laser_down"
	ActionLaserLeft   Action = "laser_left"
	ActionLaserRight  Action = "laser_right"
)

var actionOrders = map[Action]Order{
	ActionCameraLeft:  {Command: CommandPanLeft, Actuator: ActuatorCamera, Source: SourceManual},
	ActionCameraRight: {Command: CommandPanRight, Actuator: ActuatorCamera, Source: SourceManual},
	ActionLaserUp:     {Command: CommandTiltUp, Actuator: ActuatorLaser, Source: SourceManual},
	ActionLaserDown:   {Command: CommandTiltDown, Actuator: ActuatorLaser, Source: SourceManual},
	ActionLaserLeft:   {Command: CommandPanLeft, Actuator: ActuatorLaser, Source: SourceManual},
	ActionLaserRight:  {Command: CommandPanRight, Actuator: ActuatorLaser, Source: SourceManual},
}

var actionLabels = map[Action]string{
	ActionCameraLeft:  "Camera left",
	ActionCameraRight: "Camera right",
	ActionLaserUp:     "Laser up",
	ActionLaserDown:   "Laser down",
	ActionLaserLeft:   "Laser left",
	ActionLaserRight:  "Laser right",
}

// клавиши пульта оператора
var keyActions = map[string]Action{
	"UP":    ActionLaserUp,
	"DOWN":  ActionLaserDown,
	"LEFT":  ActionLaserLeft,
	"RIGHT": ActionLaserRight,
	"Q":     ActionCameraLeft,
	"E":     ActionCameraRight,
}

// ParseAction принимает имя действия или клавишу (UP, DOWN, LEFT, RIGHT, Q, E)
func ParseAction(s string) (Action, bool) {
	s = strings.TrimSpace(s)
	if a, ok := keyActions[strings.ToUpper(s)]; ok {
		return a, true
	}
	a := Action(strings.ToLower(s))
	_, ok := actionOrders[a]
	return a, ok
}

func (a Action) Order() Order {
	return actionOrders[a]
}

func (a Action) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

func Actions() []Action {
	actions := lo.Keys(actionOrders)
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}
