package models

import (
	"fmt"
	"image"
	"time"

	"github.com/goccy/go-json"
)

// Command направление одного шага поворота
type Command string

const (
	CommandPanLeft  Command = "PAN_LEFT"
	CommandPanRight Command = "PAN_RIGHT"
	CommandTiltUp   Command = "TILT_UP"
	CommandTiltDown Command = "TILT_DOWN"
)

// Horizontal сообщает, двигает ли команда по оси X
func (c Command) Horizontal() bool {
	return c == CommandPanLeft || c == CommandPanRight
}

type Actuator string

const (
	ActuatorCamera Actuator = "camera"
	ActuatorLaser  Actuator = "laser"
)

type Source string

const (
	SourceManual   Source = "manual"
	SourceTracking Source = "tracking"
)

// Order одна команда для привода, доставляется без гарантий
type Order struct {
	Command  Command  `json:"command"`
	Actuator Actuator `json:"actuator"`
	Source   Source   `json:"source"`
}

func (o Order) String() string {
	return fmt.Sprintf("%s/%s (%s)", o.Actuator, o.Command, o.Source)
}

// Detection Структура одного найденного объекта
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	Box        image.Rectangle
}

// Center середина рамки, целочисленное деление
func (d Detection) Center() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

func (d Detection) Area() int {
	return d.Box.Dx() * d.Box.Dy()
}

type detectionJSON struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
	Center     [2]int  `json:"center"`
	Area       int     `json:"area"`
}

func (d Detection) MarshalJSON() ([]byte, error) {
	c := d.Center()
	return json.Marshal(detectionJSON{
		ClassID:    d.ClassID,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		BBox:       [4]int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y},
		Center:     [2]int{c.X, c.Y},
		Area:       d.Area(),
	})
}

func (d *Detection) UnmarshalJSON(data []byte) error {
	var raw detectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Detection{
		ClassID:    raw.ClassID,
		ClassName:  raw.ClassName,
		Confidence: raw.Confidence,
		Box:        image.Rect(raw.BBox[0], raw.BBox[1], raw.BBox[2], raw.BBox[3]),
	}
	return nil
}

// Frame кадр в формате BGR, 3 байта на пиксель
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time
}

func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}

// Clone возвращает независимую копию пикселей
func (f Frame) Clone() Frame {
	out := f
	if f.Data != nil {
		out.Data = make([]byte, len(f.Data))
		copy(out.Data, f.Data)
	}
	return out
}

// DispatchRecord результат одной попытки отправки команды
type DispatchRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Order      Order     `json:"order"`
	Argument   string    `json:"argument"`
	Invocation string    `json:"invocation,omitempty"`
	Simulated  bool      `json:"simulated"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventTrackingStarted EventType = "tracking_started"
	EventTrackingStopped EventType = "tracking_stopped"
	EventOrderDispatched EventType = "order_dispatched"
)

// Event сообщение для внешних потребителей (Kafka)
type Event struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Type      EventType  `json:"type"`
	Order     *Order     `json:"order,omitempty"`
	Simulated bool       `json:"simulated,omitempty"`
	Detection *Detection `json:"detection,omitempty"`
	TimeStamp time.Time  `json:"timestamp"`
}
