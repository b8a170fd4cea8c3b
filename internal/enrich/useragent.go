package enrich

import (
	"strings"

	"github.com/mssola/useragent"
)

// Типы устройств
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
)

// AgentParser разбирает User-Agent
type AgentParser struct{}

func NewAgentParser() *AgentParser {
	return &AgentParser{}
}

// Parse возвращает тип устройства и имя браузера
func (AgentParser) Parse(userAgent string) (device, browser string) {
	if strings.TrimSpace(userAgent) == "" {
		return "", ""
	}

	ua := useragent.New(userAgent)
	browser, _ = ua.Browser()

	switch {
	case ua.Bot():
		device = DeviceBot
	case isTablet(userAgent):
		device = DeviceTablet
	case ua.Mobile():
		device = DeviceMobile
	default:
		device = DeviceDesktop
	}
	return device, browser
}

// Android-планшеты не пишут Mobile в UA
func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}
