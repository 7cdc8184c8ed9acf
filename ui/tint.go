package ui

type colorFilterSpec struct {
	tint     [3]int
	strength float64
	contrast float64
}

var colorFilterPresets = map[string]*colorFilterSpec{
	"red":    {tint: [3]int{255, 0, 0}, strength: 1.0, contrast: 1.3},
	"orange": {tint: [3]int{255, 128, 0}, strength: 1.0, contrast: 1.3},
	"yellow": {tint: [3]int{255, 255, 0}, strength: 1.0, contrast: 1.3},
	"green":  {tint: [3]int{0, 255, 0}, strength: 1.0, contrast: 1.3},
	"teal":   {tint: [3]int{0, 255, 255}, strength: 1.0, contrast: 1.3},
	"blue":   {tint: [3]int{0, 0, 255}, strength: 1.0, contrast: 1.3},
	"purple": {tint: [3]int{255, 0, 255}, strength: 1.0, contrast: 1.3},
	"pink":   {tint: [3]int{255, 64, 160}, strength: 1.0, contrast: 1.3},
	"gray":   {tint: [3]int{255, 255, 255}, strength: 1.0, contrast: 1.3},
}

// apply maps a pixel to the tint hue, keeping its contrast-stretched brightness.
func (cf *colorFilterSpec) apply(r, g, b uint8) [3]uint8 {
	luminance := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	contrast := cf.contrast
	if contrast <= 0 {
		contrast = 1
	}
	mono := float64(clampColor((luminance-128)*contrast + 128))
	strength := cf.strength
	if strength <= 0 {
		strength = 0.5
	}
	if strength > 1 {
		strength = 1
	}
	intensity := mono / 255.0
	mix := func(target int) uint8 {
		return clampColor(mono*(1-strength) + float64(target)*intensity*strength)
	}
	return [3]uint8{mix(cf.tint[0]), mix(cf.tint[1]), mix(cf.tint[2])}
}

func clampColor(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
