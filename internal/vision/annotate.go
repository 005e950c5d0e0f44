package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/kossa56/Jamnik/internal/models"
	"gocv.io/x/gocv"
)

var palette = []color.RGBA{
	{255, 0, 0, 0},
	{0, 255, 0, 0},
	{0, 0, 255, 0},
	{255, 255, 0, 0},
	{255, 0, 255, 0},
	{0, 255, 255, 0},
	{255, 128, 0, 0},
	{128, 0, 255, 0},
}

var (
	white = color.RGBA{255, 255, 255, 0}
	red   = color.RGBA{255, 0, 0, 0}
)

// Annotator рисует рамки, подписи и центр цели на копии кадра
type Annotator struct{}

func (Annotator) Annotate(frame models.Frame, detections []models.Detection) models.Frame {
	if len(detections) == 0 {
		return frame
	}
	img, err := frameMat(frame)
	defer img.Close()
	if err != nil {
		return frame
	}

	for _, d := range detections {
		c := palette[d.ClassID%len(palette)]
		gocv.Rectangle(&img, d.Box, c, 2)

		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		top := d.Box.Min.Y - size.Y - 8
		if top < 0 {
			top = d.Box.Min.Y
		}
		gocv.Rectangle(&img, image.Rect(d.Box.Min.X, top, d.Box.Min.X+size.X+6, top+size.Y+8), c, -1)
		gocv.PutText(&img, label, image.Pt(d.Box.Min.X+3, top+size.Y+3), gocv.FontHersheySimplex, 0.5, white, 1)

		center := d.Center()
		gocv.Circle(&img, center, 5, red, -1)
		gocv.Circle(&img, center, 5, white, 1)
	}

	out := matFrame(img)
	out.Seq = frame.Seq
	out.CapturedAt = frame.CapturedAt
	return out
}
