package tracking

import (
	"github.com/kossa56/Jamnik/internal/models"
)

const DefaultDeadZone = 0.05

// Decide одна команда на тик или ничего, если цель в мертвой зоне
func Decide(det models.Detection, width, height int) (models.Command, bool) {
	return DecideWithDeadZone(det, width, height, DefaultDeadZone)
}

// DecideWithDeadZone мертвая зона задается долей кадра по каждой оси.
// Двигаем только по доминирующей оси; при равенстве побеждает вертикаль.
func DecideWithDeadZone(det models.Detection, width, height int, deadZone float64) (models.Command, bool) {
	if width <= 0 || height <= 0 {
		return "", false
	}

	c := det.Center()
	dx := c.X - width/2
	dy := c.Y - height/2

	if abs(float64(dx)) <= float64(width)*deadZone && abs(float64(dy)) <= float64(height)*deadZone {
		return "", false
	}

	if abs(float64(dx)) > abs(float64(dy)) {
		if dx > 0 {
			return models.CommandPanRight, true
		}
		return models.CommandPanLeft, true
	}
	if dy > 0 {
		return models.CommandTiltDown, true
	}
	return models.CommandTiltUp, true
}

// OrderFor горизонталь двигает камеру, вертикаль лазер
func OrderFor(cmd models.Command) models.Order {
	actuator := models.ActuatorLaser
	if cmd.Horizontal() {
		actuator = models.ActuatorCamera
	}
	return models.Order{Command: cmd, Actuator: actuator, Source: models.SourceTracking}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
