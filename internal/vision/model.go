package vision

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/samber/lo"
	"gocv.io/x/gocv"
)

// минимальная уверенность сырого кандидата, дальше фильтрует движок
const rawConfidence = 0.1

type ModelConfig struct {
	Weights   string
	Config    string
	Names     string
	InputSize int
}

// DNNModel darknet YOLO через OpenCV DNN
type DNNModel struct {
	mu       sync.Mutex
	net      gocv.Net
	outNames []string
	names    []string
	size     int
}

func LoadModel(cfg ModelConfig) (*DNNModel, error) {
	if _, err := os.Stat(cfg.Weights); err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}
	names, err := readNames(cfg.Names)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.Weights, cfg.Config)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read net %s: empty network", cfg.Weights)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	outNames := lo.Map(net.GetUnconnectedOutLayers(), func(id int, _ int) string {
		layer := net.GetLayer(id)
		defer layer.Close()
		return layer.GetName()
	})

	size := cfg.InputSize
	if size <= 0 {
		size = 416
	}

	return &DNNModel{
		net:      net,
		outNames: outNames,
		names:    names,
		size:     size,
	}, nil
}

func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("class names: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("class names: %w", err)
	}
	return names, nil
}

// Detect возвращает сырых кандидатов в координатах кадра
func (m *DNNModel) Detect(frame models.Frame) ([]models.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	img, err := frameMat(frame)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(m.size, m.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	outputs := m.net.ForwardLayers(m.outNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	w, h := float32(frame.Width), float32(frame.Height)
	var detections []models.Detection
	for _, out := range outputs {
		for i := 0; i < out.Rows(); i++ {
			row := out.RowRange(i, i+1)
			scores := row.ColRange(5, row.Cols())
			_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
			scores.Close()
			row.Close()

			if maxVal < rawConfidence {
				continue
			}

			cx := out.GetFloatAt(i, 0) * w
			cy := out.GetFloatAt(i, 1) * h
			bw := out.GetFloatAt(i, 2) * w
			bh := out.GetFloatAt(i, 3) * h
			box := image.Rect(int(cx-bw/2), int(cy-bh/2), int(cx+bw/2), int(cy+bh/2)).
				Intersect(image.Rect(0, 0, frame.Width, frame.Height))
			if box.Empty() {
				continue
			}

			detections = append(detections, models.Detection{
				ClassID:    maxLoc.X,
				ClassName:  m.className(maxLoc.X),
				Confidence: float64(maxVal),
				Box:        box,
			})
		}
	}
	return detections, nil
}

func (m *DNNModel) className(id int) string {
	if id >= 0 && id < len(m.names) {
		return m.names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

func (m *DNNModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
