// shares.go — Share Token Issuer: выдача и проверка share-ссылок.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
)

const (
	// ShareTokenLength — длина токена ссылки.
	ShareTokenLength = 32
	tokenAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenAttempts    = 3
)

// ShareRequest — параметры новой ссылки.
type ShareRequest struct {
	Grantee     *model.EntityRef
	Permissions []string
	// ExpiresAt — срок действия (nil — бессрочно)
	ExpiresAt *time.Time
	// MaxDownloads — лимит скачиваний (nil — без лимита)
	MaxDownloads *int
}

// ShareService — выдача и проверка ссылок.
type ShareService struct {
	shares  repository.ShareRepository
	files   *FileService
	baseURL string
	random  io.Reader
	now     func() time.Time
	logger  *slog.Logger
}

// NewShareService создаёт сервис ссылок. baseURL — префикс публичных ссылок.
func NewShareService(shares repository.ShareRepository, files *FileService, baseURL string, logger *slog.Logger) *ShareService {
	return &ShareService{
		shares:  shares,
		files:   files,
		baseURL: strings.TrimRight(baseURL, "/"),
		random:  rand.Reader,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "share_service")),
	}
}

// GenerateToken возвращает случайный токен из латиницы и цифр.
// Байты вне диапазона, кратного размеру алфавита, отбрасываются,
// чтобы символы распределялись равномерно.
func GenerateToken(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(tokenAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("ошибка генерации токена: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// tokenRef — короткий отпечаток токена для логов.
func tokenRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

// CreateShare выдаёт ссылку на файл.
func (s *ShareService) CreateShare(ctx context.Context, fileID int64, req ShareRequest, actor Actor) (*model.FileShare, error) {
	f, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !f.Status.HasBytes() {
		return nil, fmt.Errorf("%w: файл %d удалён", ErrInvalidState, f.ID)
	}

	perms, err := model.ParsePermissions(req.Permissions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if req.MaxDownloads != nil && *req.MaxDownloads <= 0 {
		return nil, validationErr("max_downloads должен быть положительным")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, validationErr("срок действия ссылки уже истёк")
	}

	share := &model.FileShare{
		FileID:       f.ID,
		Grantee:      req.Grantee,
		Permissions:  perms,
		ExpiresAt:    req.ExpiresAt,
		MaxDownloads: req.MaxDownloads,
		CreatedBy:    actor.UserID,
	}
	for attempt := 1; ; attempt++ {
		share.Token, err = GenerateToken(s.random, ShareTokenLength)
		if err != nil {
			return nil, err
		}
		err = s.shares.Create(ctx, share)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == tokenAttempts {
			return nil, mapRepoErr(err)
		}
	}

	s.logger.Info("Ссылка создана",
		slog.Int64("share_id", share.ID),
		slog.Int64("file_id", f.ID),
		slog.String("token_ref", tokenRef(share.Token)),
	)
	return share, nil
}

// IsValid сообщает, действительна ли ссылка сейчас.
func (s *ShareService) IsValid(share *model.FileShare) bool {
	return share.IsValid(s.now())
}

// RecordUse учитывает скачивание. Счётчик увеличивается атомарно
// и только пока ссылка действительна; иначе ErrShareInvalid.
func (s *ShareService) RecordUse(ctx context.Context, share *model.FileShare) error {
	ok, err := s.shares.IncrementDownloads(ctx, share.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrShareInvalid
	}
	share.DownloadCount++
	return nil
}

// Resolve находит действительную ссылку по токену.
// Отсутствующая, истёкшая и исчерпанная ссылки неразличимы снаружи.
func (s *ShareService) Resolve(ctx context.Context, token string) (*model.FileShare, error) {
	share, err := s.shares.GetByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrShareInvalid
	}
	if err != nil {
		return nil, err
	}
	if !share.IsValid(s.now()) {
		s.logger.Debug("Недействительная ссылка",
			slog.Int64("share_id", share.ID),
			slog.String("token_ref", tokenRef(token)),
			slog.Bool("expired", share.IsExpired(s.now())),
			slog.Bool("exhausted", share.IsExhausted()),
		)
		return nil, ErrShareInvalid
	}
	return share, nil
}

// View возвращает ссылку и файл по токену без учёта скачивания.
func (s *ShareService) View(ctx context.Context, token string) (*model.FileShare, *model.StoredFile, error) {
	share, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.files.Get(ctx, share.FileID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrShareInvalid
	}
	if err != nil {
		return nil, nil, err
	}
	if !f.Status.HasBytes() {
		return nil, nil, ErrShareInvalid
	}
	return share, f, nil
}

// Download проверяет ссылку, учитывает скачивание и открывает байты.
func (s *ShareService) Download(ctx context.Context, token string) (*model.StoredFile, io.ReadCloser, error) {
	share, f, err := s.View(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if !share.Allows(model.PermissionDownload) {
		return nil, nil, ErrShareInvalid
	}
	// Использование засчитывается только за открытый поток
	rc, err := s.files.Open(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	if err := s.RecordUse(ctx, share); err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	return f, rc, nil
}

// Revoke удаляет ссылку.
func (s *ShareService) Revoke(ctx context.Context, id int64) error {
	if err := s.shares.Delete(ctx, id); err != nil {
		return mapRepoErr(err)
	}
	s.logger.Info("Ссылка отозвана", slog.Int64("share_id", id))
	return nil
}

// Get возвращает ссылку по идентификатору.
func (s *ShareService) Get(ctx context.Context, id int64) (*model.FileShare, error) {
	share, err := s.shares.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return share, nil
}

// ListForFile возвращает ссылки файла.
func (s *ShareService) ListForFile(ctx context.Context, fileID int64) ([]*model.FileShare, error) {
	return s.shares.ListByFile(ctx, fileID)
}

// URL возвращает публичный адрес ссылки.
func (s *ShareService) URL(share *model.FileShare) string {
	return s.baseURL + "/s/" + share.Token
}
