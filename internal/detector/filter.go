package detector

import (
	"image"
	"sort"

	"github.com/kossa56/Jamnik/internal/models"
	"github.com/samber/lo"
)

const (
	MinConfidence = 0.1
	MaxConfidence = 0.99

	overlapThreshold = 0.45
)

// ClampConfidence ограничивает порог диапазоном [0.1, 0.99]
func ClampConfidence(v float64) float64 {
	return min(max(v, MinConfidence), MaxConfidence)
}

type filter struct {
	threshold float64
	classID   int
	className string
	hasClass  bool
}

func (f *filter) apply(raw []models.Detection) []models.Detection {
	kept := lo.Filter(raw, func(d models.Detection, _ int) bool {
		return d.Confidence >= f.threshold && (!f.hasClass || d.ClassID == f.classID)
	})
	return suppress(kept, overlapThreshold)
}

// suppress жадный NMS по классам; результат отсортирован по убыванию уверенности
func suppress(dets []models.Detection, iouThreshold float64) []models.Detection {
	sorted := append([]models.Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var out []models.Detection
	for _, d := range sorted {
		overlaps := lo.ContainsBy(out, func(k models.Detection) bool {
			return k.ClassID == d.ClassID && iou(k.Box, d.Box) > iouThreshold
		})
		if !overlaps {
			out = append(out, d)
		}
	}
	return out
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}
