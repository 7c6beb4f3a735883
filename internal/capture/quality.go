package capture

import "strings"

// QualityPreset defines a video quality preset
type QualityPreset struct {
	Name        string `json:"name"`
	Bitrate     int    `json:"bitrate"` // in kbps
	Description string `json:"description"`
}

// Quality presets from lowest to highest
var QualityPresets = []QualityPreset{
	{Name: "low", Bitrate: 500, Description: "500 kbps"},
	{Name: "medium", Bitrate: 1500, Description: "1.5 Mbps"},
	{Name: "standard", Bitrate: 3000, Description: "3 Mbps"},
	{Name: "high", Bitrate: 8000, Description: "8 Mbps"},
	{Name: "ultra", Bitrate: 10000, Description: "10 Mbps"},
	{Name: "insane", Bitrate: 15000, Description: "15 Mbps"},
	{Name: "max", Bitrate: 20000, Description: "20 Mbps"},
}

// DefaultQuality is used when a request names no preset
const DefaultQuality = "high"

// QualityByName finds a quality preset by name (case-insensitive)
func QualityByName(name string) *QualityPreset {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "lo":
		name = "low"
	case "med":
		name = "medium"
	case "hi":
		name = "high"
	}
	for i := range QualityPresets {
		if QualityPresets[i].Name == name {
			return &QualityPresets[i]
		}
	}
	return nil
}

// Bitrate converts a quality name to kbps, falling back to fallback and
// then to DefaultQuality when neither is known
func Bitrate(name, fallback string) int {
	if p := QualityByName(name); p != nil {
		return p.Bitrate
	}
	if p := QualityByName(fallback); p != nil {
		return p.Bitrate
	}
	return QualityByName(DefaultQuality).Bitrate
}
