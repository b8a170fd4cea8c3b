package models

import (
	"time"
)

type Link struct {
	ID          string     `json:"id"`
	ShortCode   string     `json:"shortCode"`
	OriginalURL string     `json:"originalUrl"`
	OwnerID     *string    `json:"ownerId,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastClickAt *time.Time `json:"lastClickAt,omitempty"`
	DeletedAt   *time.Time `json:"-"`
}

// OwnedBy сообщает, принадлежит ли ссылка владельцу. Анонимные ссылки не принадлежат никому.
func (l *Link) OwnedBy(ownerID string) bool {
	return ownerID != "" && l.OwnerID != nil && *l.OwnerID == ownerID
}

type CreateLinkInput struct {
	OriginalURL string
	OwnerID     *string
	Title       *string
	Description *string
	CustomCode  *string
}

type UpdateLinkInput struct {
	Title       *string
	Description *string
	IsActive    *bool
}

// LinkPage страница ссылок владельца для дашборда
type LinkPage struct {
	Links      []Link
	TotalCount int64
}

// LinkWithStats ссылка вместе с числом кликов и превью последних кликов
type LinkWithStats struct {
	Link
	ClickCount   int64        `json:"clickCount"`
	RecentClicks []ClickEvent `json:"recentClicks"`
}
