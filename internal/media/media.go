// Package media — файловое хранилище медиа архива.
//
// Раскладка под корнем:
//
//	<root>/<chat_id>/<file>              — медиа чата
//	<root>/_shared/<file>                — пул дедупликации
//	<root>/avatars/users/<id>_<photo>.jpg
//	<root>/avatars/chats/<id>_<photo>.jpg
//
// В базе хранятся пути относительно корня. При включённой дедупликации файл
// скачивается в пул один раз, а в каталогах чатов создаются относительные
// симлинки; если симлинк создать нельзя, байты копируются.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/calvinturbo/Telegram-Archive/internal/infra/logger"

	"github.com/go-faster/errors"
)

// sharedDirName — каталог пула дедупликации. Подчёркивание исключает
// пересечение с каталогами чатов: их имена — десятичные id.
const sharedDirName = "_shared"

// Типы медиа, известные хранилищу.
const (
	TypePhoto     = "photo"
	TypeVideo     = "video"
	TypeAnimation = "animation"
	TypeAudio     = "audio"
	TypeVoice     = "voice"
	TypeSticker   = "sticker"
	TypeDocument  = "document"
	TypeContact   = "contact"
	TypeGeo       = "geo"
	TypePoll      = "poll"
)

// AvatarKind — подкаталог аватаров.
type AvatarKind string

const (
	AvatarUsers AvatarKind = "users"
	AvatarChats AvatarKind = "chats"
)

// extByType — расширение по типу медиа, когда MIME ничего не дал.
var extByType = map[string]string{
	TypePhoto:     ".jpg",
	TypeVideo:     ".mp4",
	TypeAnimation: ".mp4",
	TypeAudio:     ".mp3",
	TypeVoice:     ".ogg",
	TypeSticker:   ".webp",
}

// extByMime — расширения для распространённых MIME-типов Telegram.
var extByMime = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"audio/mp4":       ".m4a",
	"audio/flac":      ".flac",
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"text/plain":      ".txt",
}

// Store — хранилище медиафайлов под одним корнем.
type Store struct {
	root     string
	dedup    bool
	maxBytes int64 // 0 — без ограничения
}

// NewStore собирает хранилище. maxSizeMB <= 0 отключает ограничение размера.
func NewStore(root string, dedup bool, maxSizeMB int) *Store {
	var maxBytes int64
	if maxSizeMB > 0 {
		maxBytes = int64(maxSizeMB) * 1024 * 1024
	}
	return &Store{root: root, dedup: dedup, maxBytes: maxBytes}
}

// Root возвращает корень хранилища.
func (s *Store) Root() string { return s.root }

// AllowsSize сообщает, проходит ли заявленный размер файла лимит.
func (s *Store) AllowsSize(size int64) bool {
	return s.maxBytes == 0 || size <= s.maxBytes
}

// FileName строит имя файла: `<file_id>.<ext>` либо `<file_id>_<имя документа>`.
// Расширение берётся из MIME, затем из типа медиа; разделители путей в
// пользовательских именах заменяются на подчёркивание.
func FileName(fileID, mediaType, mimeType, originalName string) string {
	if originalName != "" {
		return fileID + "_" + sanitizeName(originalName)
	}
	if ext, ok := extByMime[strings.ToLower(mimeType)]; ok {
		return fileID + ext
	}
	if ext, ok := extByType[mediaType]; ok {
		return fileID + ext
	}
	return fileID
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}

// Prepare возвращает абсолютный путь, в который следует скачивать файл, и
// признак того, что содержимое уже есть на диске (скачивание не требуется).
// При дедупликации целевой путь — пул `_shared`, иначе каталог чата.
// Пустой файл содержимым не считается: его перезапишет новое скачивание.
func (s *Store) Prepare(chatID int64, fileName string) (dest string, exists bool, err error) {
	if s.dedup {
		dest = filepath.Join(s.root, sharedDirName, fileName)
	} else {
		dest = filepath.Join(s.root, chatName(chatID), fileName)
	}
	if info, statErr := os.Stat(dest); statErr == nil && !info.IsDir() && info.Size() > 0 {
		return dest, true, nil
	}
	if err = ensureParent(dest); err != nil {
		return "", false, err
	}
	return dest, false, nil
}

// Commit фиксирует скачанный (или уже имевшийся) файл за чатом и возвращает
// путь для записи в базу, относительный корню хранилища. Без дедупликации
// это сам файл чата; с дедупликацией в каталоге чата создаётся относительный
// симлинк на пул, при невозможности — копия байтов.
func (s *Store) Commit(chatID int64, fileName string) (string, error) {
	rel := filepath.ToSlash(filepath.Join(chatName(chatID), fileName))
	if !s.dedup {
		return rel, nil
	}

	link := filepath.Join(s.root, chatName(chatID), fileName)
	shared := filepath.Join(s.root, sharedDirName, fileName)
	if fileExists(link) {
		return rel, nil
	}
	if err := ensureParent(link); err != nil {
		return "", err
	}

	// Цель симлинка относительная, чтобы корень можно было переносить.
	target := filepath.Join("..", sharedDirName, fileName)
	if err := os.Symlink(target, link); err != nil {
		logger.Warnf("media: symlink %s: %v, falling back to copy", link, err)
		if copyErr := copyFile(shared, link); copyErr != nil {
			return "", errors.Wrap(copyErr, "copy from shared pool")
		}
	}
	return rel, nil
}

// Resolve возвращает абсолютный путь по относительному из базы.
func (s *Store) Resolve(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// Discard удаляет испорченный файл: запись чата и, при дедупликации, копию в
// пуле. Битый общий файл битый для всех чатов, ссылки остальных поймает их
// собственная сверка. Отсутствие файла ошибкой не считается.
func (s *Store) Discard(relPath string) {
	removeIfExists(s.Resolve(relPath))
	if s.dedup {
		removeIfExists(filepath.Join(s.root, sharedDirName, filepath.Base(filepath.FromSlash(relPath))))
	}
}

func removeIfExists(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("media: remove %s: %v", path, err)
	}
}

// Stat возвращает фактический размер файла по относительному пути из базы;
// ok=false — файла нет или он нечитаем. Симлинки разыменовываются.
func (s *Store) Stat(relPath string) (size int64, ok bool) {
	info, err := os.Stat(s.Resolve(relPath))
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// SizeMatches сверяет фактический размер с заявленным: допускается отклонение
// до 1 % (Telegram иногда сообщает приблизительный размер).
func SizeMatches(actual, expected int64) bool {
	if expected <= 0 {
		return true
	}
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(expected)*0.01
}

// AvatarDownloadPath — абсолютный путь для скачивания аватара конкретной
// фотографии. Старые файлы при смене фото не удаляются.
func (s *Store) AvatarDownloadPath(kind AvatarKind, id, photoID int64) (string, error) {
	path := filepath.Join(s.avatarDir(kind),
		fmt.Sprintf("%d_%d.jpg", id, photoID))
	if err := ensureParent(path); err != nil {
		return "", err
	}
	return path, nil
}

// HasAvatar сообщает, скачан ли уже аватар данной фотографии.
func (s *Store) HasAvatar(kind AvatarKind, id, photoID int64) bool {
	return fileExists(filepath.Join(s.avatarDir(kind), fmt.Sprintf("%d_%d.jpg", id, photoID)))
}

// ResolveAvatar находит актуальный аватар: самый свежий по mtime файл
// `<id>_*.jpg`, затем устаревшее имя `<id>.jpg`. Возвращает путь
// относительно корня хранилища.
func (s *Store) ResolveAvatar(kind AvatarKind, id int64) (string, bool) {
	dir := s.avatarDir(kind)
	prefix := strconv.FormatInt(id, 10)

	matches, _ := filepath.Glob(filepath.Join(dir, prefix+"_*.jpg"))
	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool {
			return modTime(matches[i]).After(modTime(matches[j]))
		})
		return s.relToRoot(matches[0]), true
	}

	if legacy := filepath.Join(dir, prefix+".jpg"); fileExists(legacy) {
		return s.relToRoot(legacy), true
	}
	return "", false
}

func (s *Store) avatarDir(kind AvatarKind) string {
	return filepath.Join(s.root, "avatars", string(kind))
}

func (s *Store) relToRoot(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func chatName(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "create dir %s", filepath.Dir(path))
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
