package backup

import (
	"context"
	"encoding/base64"
	"os"
	"strconv"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"
	"github.com/calvinturbo/Telegram-Archive/internal/media"
	"github.com/calvinturbo/Telegram-Archive/internal/store"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// mediaInfo — нормализованное описание вложения. location == nil для типов,
// которые не скачиваются (контакт, гео, опрос).
type mediaInfo struct {
	fileID    string
	mediaType string
	mimeType  string
	fileName  string
	size      int64
	width     int
	height    int
	duration  float64
	location  tg.InputFileLocationClass
}

// handleMedia прогоняет вложение через пайплайн: классификация, лимит
// размера, дедупликация, скачивание. Возвращает строку media для записи в
// базу (nil — вложения нет или оно не скачивается). Ошибка скачивания не
// фатальна: строка остаётся downloaded=false и будет подхвачена проверкой.
func (p *Processor) handleMedia(ctx context.Context, record *store.Message, raw map[string]any, msg *tg.Message, download bool) (*store.Media, error) {
	info := extractMedia(msg, raw)
	if info == nil {
		return nil, nil
	}
	record.MediaType = &info.mediaType
	if info.location == nil || info.fileID == "" {
		return nil, nil
	}
	record.MediaID = &info.fileID

	fileName := media.FileName(info.fileID, info.mediaType, info.mimeType, info.fileName)
	row := &store.Media{
		ID:        info.fileID,
		MessageID: record.ID,
		ChatID:    record.ChatID,
		Type:      info.mediaType,
		FileSize:  info.size,
		Width:     int64(info.width),
		Height:    int64(info.height),
		Duration:  info.duration,
	}
	if info.fileName != "" {
		row.FileName = &info.fileName
	}
	if info.mimeType != "" {
		row.MimeType = &info.mimeType
	}

	if !p.media.AllowsSize(info.size) {
		logger.Debugf("backup: media %s skipped, size %d over limit", info.fileID, info.size)
		return row, nil
	}
	if !download {
		return row, nil
	}

	dest, exists, err := p.media.Prepare(record.ChatID, fileName)
	if err != nil {
		return row, err
	}
	if !exists {
		if dlErr := p.downloadTo(ctx, info.location, dest); dlErr != nil {
			logger.Warnf("backup: download media %s: %v", info.fileID, dlErr)
			return row, nil
		}
	}

	rel, err := p.media.Commit(record.ChatID, fileName)
	if err != nil {
		return row, err
	}
	now := time.Now().UTC()
	row.FilePath = &rel
	row.Downloaded = true
	row.DownloadDate = &now
	record.MediaPath = &rel
	return row, nil
}

// downloadTo скачивает файл во временный путь рядом с целевым и атомарно
// переименовывает: в дереве не бывает частично записанных файлов.
func (p *Processor) downloadTo(ctx context.Context, location tg.InputFileLocationClass, dest string) error {
	tmp := dest + ".tmp"
	if _, err := downloader.NewDownloader().Download(p.api, location).ToPath(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// extractMedia классифицирует вложение. Для нескачиваемых типов структура
// уходит в raw_data (опрос, гео, контакт).
func extractMedia(msg *tg.Message, raw map[string]any) *mediaInfo {
	switch m := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		info := &mediaInfo{
			fileID:    strconv.FormatInt(photo.ID, 10),
			mediaType: media.TypePhoto,
			mimeType:  "image/jpeg",
		}
		thumb, size, w, h := largestPhotoSize(photo.Sizes)
		info.size, info.width, info.height = size, w, h
		info.location = &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}
		return info

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		info := &mediaInfo{
			fileID:   strconv.FormatInt(doc.ID, 10),
			mimeType: doc.MimeType,
			size:     doc.Size,
			location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
		classifyDocument(info, doc.Attributes)
		return info

	case *tg.MessageMediaContact:
		raw["contact"] = map[string]any{
			"phone_number": m.PhoneNumber,
			"first_name":   m.FirstName,
			"last_name":    m.LastName,
			"user_id":      m.UserID,
		}
		return &mediaInfo{mediaType: media.TypeContact}

	case *tg.MessageMediaGeo:
		if geo, ok := m.Geo.(*tg.GeoPoint); ok {
			raw["geo"] = map[string]any{"lat": geo.Lat, "long": geo.Long}
		}
		return &mediaInfo{mediaType: media.TypeGeo}

	case *tg.MessageMediaVenue:
		venue := map[string]any{"title": m.Title, "address": m.Address}
		if geo, ok := m.Geo.(*tg.GeoPoint); ok {
			venue["lat"] = geo.Lat
			venue["long"] = geo.Long
		}
		raw["venue"] = venue
		return &mediaInfo{mediaType: media.TypeGeo}

	case *tg.MessageMediaPoll:
		raw["poll"] = pollPayload(m)
		return &mediaInfo{mediaType: media.TypePoll}

	default:
		return nil
	}
}

// classifyDocument определяет тип документа по атрибутам: voice / audio /
// video (включая кружки) / animation / sticker / document.
func classifyDocument(info *mediaInfo, attributes []tg.DocumentAttributeClass) {
	info.mediaType = media.TypeDocument
	animated := false

	for _, attr := range attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			info.fileName = a.FileName
		case *tg.DocumentAttributeVideo:
			info.mediaType = media.TypeVideo
			info.width = a.W
			info.height = a.H
			info.duration = a.Duration
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				info.mediaType = media.TypeVoice
			} else {
				info.mediaType = media.TypeAudio
			}
			info.duration = float64(a.Duration)
		case *tg.DocumentAttributeSticker:
			info.mediaType = media.TypeSticker
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}
	if animated && info.mediaType == media.TypeVideo {
		info.mediaType = media.TypeAnimation
	}
}

// largestPhotoSize выбирает самый крупный вариант фото и возвращает его
// thumb-тип для InputPhotoFileLocation.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (thumb string, size int64, w, h int) {
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if int64(v.Size) >= size {
				thumb, size, w, h = v.Type, int64(v.Size), v.W, v.H
			}
		case *tg.PhotoSizeProgressive:
			max := 0
			for _, candidate := range v.Sizes {
				if candidate > max {
					max = candidate
				}
			}
			if int64(max) >= size {
				thumb, size, w, h = v.Type, int64(max), v.W, v.H
			}
		}
	}
	return thumb, size, w, h
}

// pollPayload переводит структуру опроса в JSON-представление; ключи
// вариантов кодируются base64, как и в результатах голосования.
func pollPayload(m *tg.MessageMediaPoll) map[string]any {
	answers := make([]map[string]any, 0, len(m.Poll.Answers))
	for _, answer := range m.Poll.Answers {
		answers = append(answers, map[string]any{
			"text":   answer.Text.Text,
			"option": base64.StdEncoding.EncodeToString(answer.Option),
		})
	}

	payload := map[string]any{
		"question":         m.Poll.Question.Text,
		"answers":          answers,
		"closed":           m.Poll.Closed,
		"multiple_choice":  m.Poll.MultipleChoice,
		"quiz":             m.Poll.Quiz,
		"public_voters":    m.Poll.PublicVoters,
		"total_voters":     m.Results.TotalVoters,
	}

	if len(m.Results.Results) > 0 {
		tallies := make([]map[string]any, 0, len(m.Results.Results))
		for _, result := range m.Results.Results {
			tallies = append(tallies, map[string]any{
				"option": base64.StdEncoding.EncodeToString(result.Option),
				"voters": result.Voters,
				"chosen": result.Chosen,
			})
		}
		payload["results"] = tallies
	}
	return payload
}
