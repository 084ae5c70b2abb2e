package chatclient

import "strings"

// Icon is the weather badge category.
type Icon string

const (
	IconSunny        Icon = "sunny"
	IconCloudy       Icon = "cloudy"
	IconRainy        Icon = "rainy"
	IconSnowy        Icon = "snowy"
	IconStormy       Icon = "stormy"
	IconPartlyCloudy Icon = "partly-cloudy"
)

// checked in order, first match wins
var iconRules = []struct {
	keywords []string
	icon     Icon
}{
	{[]string{"sun", "clear"}, IconSunny},
	{[]string{"cloud"}, IconCloudy},
	{[]string{"rain"}, IconRainy},
	{[]string{"snow"}, IconSnowy},
	{[]string{"storm", "thunder"}, IconStormy},
}

// IconFor maps a free-text condition onto a badge icon.
func IconFor(condition string) Icon {
	text := strings.ToLower(condition)
	for _, rule := range iconRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.icon
			}
		}
	}
	return IconPartlyCloudy
}

func (i Icon) Emoji() string {
	switch i {
	case IconSunny:
		return "☀️"
	case IconCloudy:
		return "☁️"
	case IconRainy:
		return "🌧️"
	case IconSnowy:
		return "❄️"
	case IconStormy:
		return "⛈️"
	default:
		return "⛅"
	}
}
