package service

import (
	"errors"

	"github.com/SergeiKhy/shrinkr/internal/codegen"
)

// Ошибки сервиса
var (
	ErrInvalidURL         = errors.New("невалидный URL")
	ErrInvalidCode        = errors.New("невалидный кастомный код")
	ErrSpamDomain         = errors.New("домен в чёрном списке")
	ErrCodeConflict       = errors.New("короткий код уже занят")
	ErrCodeSpaceExhausted = codegen.ErrCodeSpaceExhausted
	ErrNotFound           = errors.New("ссылка не найдена")
	ErrInactive           = errors.New("ссылка деактивирована")
	ErrForbidden          = errors.New("нет прав на ссылку")
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	ErrRecordingFailed    = errors.New("не удалось записать клик")
)
