package service

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/shrinkr/internal/metrics"
	"github.com/SergeiKhy/shrinkr/internal/models"
	"go.uber.org/zap"
)

// Outcome результат обработки запроса на редирект
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeInactive
	OutcomeUnavailable
	OutcomeRedirected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeRedirected:
		return "redirected"
	default:
		return "not_found"
	}
}

// Redirect итог резолва: Target заполнен только для OutcomeRedirected
type Redirect struct {
	Outcome Outcome
	Target  string
}

// Redirector горячий путь: один синхронный lookup, запись клика уходит в фон
type Redirector interface {
	Redirect(ctx context.Context, code string, visit *models.Visit) (*Redirect, error)
}

type redirector struct {
	links  LinkService
	clicks ClickProcessor
	logger *zap.Logger
}

func NewRedirector(links LinkService, clicks ClickProcessor, logger *zap.Logger) Redirector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redirector{links: links, clicks: clicks, logger: logger}
}

// Redirect возвращает ErrNotFound, ErrInactive или ErrStorageUnavailable вместе с исходом
func (r *redirector) Redirect(ctx context.Context, code string, visit *models.Visit) (*Redirect, error) {
	link, err := r.links.ResolveLink(ctx, code)
	if err != nil {
		outcome := OutcomeUnavailable
		if errors.Is(err, ErrNotFound) {
			outcome = OutcomeNotFound
		}
		metrics.Redirects.WithLabelValues(outcome.String()).Inc()
		return &Redirect{Outcome: outcome}, err
	}

	if !link.IsActive {
		metrics.Redirects.WithLabelValues(OutcomeInactive.String()).Inc()
		return &Redirect{Outcome: OutcomeInactive}, ErrInactive
	}

	if visit == nil {
		visit = &models.Visit{}
	}
	visit.LinkID = link.ID
	visit.ShortCode = link.ShortCode
	if visit.ClickedAt.IsZero() {
		visit.ClickedAt = time.Now().UTC()
	}

	if r.clicks != nil {
		// Ошибка постановки в очередь не влияет на редирект
		if err := r.clicks.RecordClick(ctx, visit); err != nil {
			r.logger.Warn("Failed to enqueue click", zap.String("code", code), zap.Error(err))
		}
	}

	metrics.Redirects.WithLabelValues(OutcomeRedirected.String()).Inc()
	return &Redirect{Outcome: OutcomeRedirected, Target: link.OriginalURL}, nil
}
