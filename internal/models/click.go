package models

import (
	"time"
)

// ClickEvent неизменяемая запись об одном редиректе
type ClickEvent struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"linkId"`
	ClickedAt time.Time `json:"clickedAt"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
	Referrer  *string   `json:"referrer,omitempty"`
	Country   *string   `json:"country,omitempty"`
	Device    *string   `json:"device,omitempty"`
	Browser   *string   `json:"browser,omitempty"`
}

// Visit сырые данные запроса, из которых воркер строит ClickEvent
type Visit struct {
	LinkID      string
	ShortCode   string
	ClickedAt   time.Time
	IPAddress   string
	UserAgent   string
	Referrer    string
	CountryHint string
}

// RecentClick клик вместе с кодом и адресом исходной ссылки
type RecentClick struct {
	ClickEvent
	ShortCode   string `json:"shortCode"`
	OriginalURL string `json:"originalUrl"`
}
