package vision

import (
	"fmt"
	"time"

	"github.com/kossa56/Jamnik/internal/models"
	"gocv.io/x/gocv"
)

// frameMat копирует кадр в собственную память OpenCV, вызывающий закрывает Mat
func frameMat(frame models.Frame) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	view, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("frame to mat: %w", err)
	}
	defer view.Close()
	return view.Clone(), nil
}

// matFrame обратное преобразование, пиксели копируются в Go память
func matFrame(m gocv.Mat) models.Frame {
	src := m
	if m.Channels() != 3 {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(m, &converted, gocv.ColorGrayToBGR)
		src = converted
	}
	return models.Frame{
		Data:       src.ToBytes(),
		Width:      src.Cols(),
		Height:     src.Rows(),
		CapturedAt: time.Now(),
	}
}

// EncodeJPEG кодирует кадр для отдачи оператору и в хранилище
func EncodeJPEG(frame models.Frame) ([]byte, error) {
	img, err := frameMat(frame)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
