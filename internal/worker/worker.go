package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"character_wiki/internal/logger"
	"character_wiki/internal/metrics"
	"character_wiki/internal/models"
	"character_wiki/internal/pager"
)

// Saver сохраняет персонажей в архив.
type Saver interface {
	SaveCharacter(ctx context.Context, ch models.Character, source string) error
}

// Publisher отправляет сообщения в архив.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Worker записывает в архив персонажей из каждого полученного события страницы.
type Worker struct {
	db Saver
}

func NewWorker(db Saver) *Worker {
	return &Worker{db: db}
}

// HandleTask декодирует событие страницы и сохраняет её персонажей.
// Некорректное тело - ошибка. Неудачная строка логируется и пропускается,
// но если не сохранилась ни одна, событие считается неудачным и очередь доставит его снова.
func (w *Worker) HandleTask(ctx context.Context, body []byte) error {
	var event models.PageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode page event: %w", err)
	}

	log := logger.Log.WithField("cursor", event.Cursor.String())
	log.Debug("Archiving page")

	saved := 0
	for _, ch := range event.Results {
		if err := w.db.SaveCharacter(ctx, ch, event.Cursor.String()); err != nil {
			metrics.ArchivedCharacters.WithLabelValues("error").Inc()
			log.WithField("id", ch.ID).Warnf("Save character failed: %v", err)
			continue
		}
		metrics.ArchivedCharacters.WithLabelValues("ok").Inc()
		saved++
	}

	if saved == 0 && len(event.Results) > 0 {
		return fmt.Errorf("archive page %s: no character saved", event.Cursor)
	}
	log.Infof("Archived %d of %d characters", saved, len(event.Results))
	return nil
}

// PageHook возвращает хук аккумулятора, который публикует каждую добавленную страницу.
// Публикация идёт в отдельной горутине, ошибки только логируются.
func PageHook(pub Publisher, timeout time.Duration) pager.PageHook {
	return func(cursor models.Cursor, page *models.Page) {
		body, err := json.Marshal(models.PageEvent{Cursor: cursor, Results: page.Results})
		if err != nil {
			logger.Log.Errorf("Encode page event failed: %v", err)
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := pub.Publish(ctx, body); err != nil {
				logger.Log.WithField("cursor", cursor.String()).Errorf("Publish page event failed: %v", err)
			}
		}()
	}
}
