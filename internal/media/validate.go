// Package media хранит изображения, аудио и видео историй в MinIO.
package media

import (
	"fmt"
	"mime"
	"strings"

	"storyteller-server/internal/model"

	"github.com/google/uuid"
)

// Kind - вид медиа истории.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

const mib = 1024 * 1024

var sizeLimits = map[Kind]int64{
	KindImage: 5 * mib,
	KindAudio: 50 * mib,
	KindVideo: 200 * mib,
}

// Допустимые MIME типы и расширения объектов.
var allowedTypes = map[Kind]map[string]string{
	KindImage: {"image/jpeg": ".jpg", "image/png": ".png", "image/webp": ".webp"},
	KindAudio: {"audio/mpeg": ".mp3", "audio/mp3": ".mp3", "audio/wav": ".wav", "audio/ogg": ".ogg"},
	KindVideo: {"video/mp4": ".mp4", "video/webm": ".webm", "video/ogg": ".ogv"},
}

// ParseKind разбирает вид медиа из строки запроса.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sizeLimits[k]; !ok {
		return "", &model.ValidationError{Field: "kind", Message: "must be one of image, audio, video"}
	}
	return k, nil
}

// MaxSize - лимит размера для вида медиа.
func (k Kind) MaxSize() int64 { return sizeLimits[k] }

// Validate проверяет размер и MIME тип и возвращает расширение объекта.
func Validate(kind Kind, contentType string, size int64) (string, error) {
	limit, ok := sizeLimits[kind]
	if !ok {
		return "", &model.ValidationError{Field: "kind", Message: "must be one of image, audio, video"}
	}
	if size <= 0 {
		return "", &model.ValidationError{Field: "file", Message: "file is empty"}
	}
	if size > limit {
		return "", &model.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("%s exceeds %d MB limit", kind, limit/mib),
		}
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", &model.ValidationError{Field: "contentType", Message: "invalid content type"}
	}
	ext, ok := allowedTypes[kind][mediaType]
	if !ok {
		return "", &model.ValidationError{
			Field:   "contentType",
			Message: fmt.Sprintf("%s is not an allowed %s type", mediaType, kind),
		}
	}
	return ext, nil
}

// ObjectPath строит путь объекта {kind}/{ownerId}/{uuid}{ext}.
func ObjectPath(kind Kind, ownerID, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", kind, ownerID, uuid.NewString(), ext)
}

// OwnedBy сообщает, лежит ли объект в каталоге владельца.
func OwnedBy(objectPath, ownerID string) bool {
	parts := strings.SplitN(objectPath, "/", 3)
	return len(parts) == 3 && parts[1] == ownerID
}
