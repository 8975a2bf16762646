package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/nexocrm/authsvc/internal/storage"
	"github.com/nexocrm/authsvc/internal/store"
	"github.com/rs/zerolog/log"
)

// MaxAvatarSize is the largest accepted avatar upload in bytes.
const MaxAvatarSize = 5 << 20

var (
	ErrAvatarTooLarge        = errors.New("avatar exceeds size limit")
	ErrUnsupportedAvatarType = errors.New("unsupported avatar type")
)

// avatarTypes maps accepted content types to the extension used in keys.
var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ObjectStore is the subset of object storage used for avatars.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AvatarService stores profile pictures in object storage.
type AvatarService struct {
	users   UserRepository
	objects ObjectStore
}

func NewAvatarService(users UserRepository, objects ObjectStore) *AvatarService {
	return &AvatarService{users: users, objects: objects}
}

// Upload stores data as the user's avatar and returns its key. The previous
// avatar object, if any, is removed afterwards.
func (s *AvatarService) Upload(ctx context.Context, userID int, data []byte) (string, error) {
	if len(data) > MaxAvatarSize {
		return "", ErrAvatarTooLarge
	}
	contentType := mimetype.Detect(data).String()
	ext, ok := avatarTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAvatarType, contentType)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("avatars/%d/%s%s", userID, uuid.NewString(), ext)
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	if err := s.users.SetAvatarKey(ctx, userID, &key); err != nil {
		s.deleteObject(ctx, key)
		return "", fmt.Errorf("record avatar: %w", err)
	}

	if user.HasAvatar() {
		s.deleteObject(ctx, *user.AvatarKey)
	}
	return key, nil
}

// Open returns the user's avatar and its content type. A user without an
// avatar yields store.ErrNotFound.
func (s *AvatarService) Open(ctx context.Context, userID int) (io.ReadCloser, string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if !user.HasAvatar() {
		return nil, "", store.ErrNotFound
	}

	reader, err := s.objects.Get(ctx, *user.AvatarKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", fmt.Errorf("get avatar: %w", err)
	}
	return reader, contentTypeForKey(*user.AvatarKey), nil
}

func (s *AvatarService) deleteObject(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to delete avatar object")
	}
}

func contentTypeForKey(key string) string {
	ext := path.Ext(key)
	for contentType, candidate := range avatarTypes {
		if candidate == ext {
			return contentType
		}
	}
	return "application/octet-stream"
}
