package vision

import (
	"fmt"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/kossa56/Jamnik/internal/stream"
	"gocv.io/x/gocv"
)

type videoCapture struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCapture открывает сетевой поток с буфером в один кадр, чтобы не отставать от живого видео
func OpenCapture(url string) (stream.Capture, error) {
	vc, err := gocv.VideoCaptureFile(url)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", url, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open capture %s: not opened", url)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &videoCapture{vc: vc, mat: gocv.NewMat()}, nil
}

func (c *videoCapture) Read() (models.Frame, bool) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return models.Frame{}, false
	}
	return matFrame(c.mat), true
}

func (c *videoCapture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}
