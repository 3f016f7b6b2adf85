package backup

import (
	"context"
	"slices"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"
)

// verifyMedia сверяет скачанные файлы с базой: отсутствующие, пустые и не
// совпавшие по размеру помечаются на перезакачку, после чего владеющие ими
// сообщения перечитываются из Telegram и проходят пайплайн заново.
func (e *Engine) verifyMedia(ctx context.Context) error {
	rows, err := e.db.GetMediaForVerification(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	logger.Infof("backup: verifying %d media files", len(rows))

	// message id перезакачки по чатам: один повторный запрос истории на чат.
	redownload := make(map[int64][]int64)
	checked, failed := 0, 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		checked++
		if mediaIntact(e.media, row) {
			continue
		}
		failed++
		logger.Warnf("backup: media %s (chat %d, message %d) failed verification", row.ID, row.ChatID, row.MessageID)
		// Битый файл убирается с диска, иначе повторный пайплайн сочтёт
		// его уже скачанным и перезакачки не случится.
		if row.FilePath != nil && *row.FilePath != "" {
			e.media.Discard(*row.FilePath)
		}
		if markErr := e.db.MarkMediaForRedownload(ctx, row.ID); markErr != nil {
			return markErr
		}
		if !slices.Contains(redownload[row.ChatID], row.MessageID) {
			redownload[row.ChatID] = append(redownload[row.ChatID], row.MessageID)
		}
	}
	logger.Infof("backup: media verification done, %d checked, %d failed", checked, failed)
	if failed == 0 {
		return nil
	}

	for chatID, ids := range redownload {
		if err = e.redownloadMessages(ctx, chatID, ids); err != nil {
			logger.Errorf("backup: redownload media in chat %d: %v", chatID, err)
		}
	}
	return nil
}

// mediaIntact проверяет файл на диске: есть, непустой, размер в пределах
// допуска от заявленного.
func mediaIntact(mediaStore *media.Store, row *store.Media) bool {
	if row.FilePath == nil || *row.FilePath == "" {
		return false
	}
	size, ok := mediaStore.Stat(*row.FilePath)
	if !ok || size == 0 {
		return false
	}
	if row.FileSize > 0 && !media.SizeMatches(size, row.FileSize) {
		return false
	}
	return true
}

// redownloadMessages перечитывает сообщения по id и прогоняет их через
// процессор: медиа скачивается заново. Исчезнувшие из Telegram сообщения
// остаются в архиве с пометкой downloaded=false.
func (e *Engine) redownloadMessages(ctx context.Context, chatID int64, ids []int64) error {
	peer, err := e.peers.ResolveMarkedPeer(ctx, chatID)
	if err != nil {
		return err
	}

	slices.Sort(ids)
	for start := 0; start < len(ids); start += reconcileBatchSize {
		end := min(start+reconcileBatchSize, len(ids))
		batch := ids[start:end]

		messages, fetchErr := fetchMessagesByIDs(ctx, e.api, peer, batch)
		if fetchErr != nil {
			return fetchErr
		}
		fetched := make(map[int64]bool, len(messages))
		for _, msg := range messages {
			fetched[int64(msg.ID)] = true
			if _, _, procErr := e.proc.Process(ctx, chatID, msg, true); procErr != nil {
				logger.Errorf("backup: reprocess message %d in chat %d: %v", msg.ID, chatID, procErr)
			}
		}
		for _, id := range batch {
			if !fetched[id] {
				logger.Warnf("backup: message %d in chat %d is gone upstream, media stays unavailable", id, chatID)
			}
		}
	}
	return nil
}
