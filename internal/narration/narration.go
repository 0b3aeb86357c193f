// Package narration integrates with the external object store that holds
// narration audio. The server never transcodes or stores audio itself; it
// issues time-limited signed playback URLs, records integrity checksums,
// and reads object metadata through a caching HTTP client.
package narration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/telemetry"
)

var (
	ErrInvalidKey     = errors.New("invalid narration key")
	ErrInvalidURL     = errors.New("invalid playback URL")
	ErrObjectNotFound = errors.New("narration object not found")
)

// ObjectInfo is the metadata subset we read from the object store.
type ObjectInfo struct {
	Size        int64
	ETag        string
	ContentType string
}

// Service signs playback URLs and reads narration objects.
type Service struct {
	baseURL string // external object store base, no trailing slash
	secret  []byte
	ttl     time.Duration
	client  *http.Client
}

// NewService creates a narration service. The secret must be at least 32
// bytes; the client should be a caching client so repeated metadata reads
// don't hit the store.
func NewService(baseURL string, secret []byte, ttl time.Duration, client *http.Client) (*Service, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("narration signing secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		ttl:     ttl,
		client:  client,
	}, nil
}

// SignPlaybackURL returns a time-limited URL for the narration object.
// The store's edge verifies the same HMAC before serving the audio.
func (s *Service) SignPlaybackURL(ctx context.Context, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}

	expires := time.Now().Add(s.ttl).Unix()
	sig := s.sign(key, expires)

	u := fmt.Sprintf("%s/%s?expires=%d&signature=%s",
		s.baseURL, url.PathEscape(key), expires,
		base64.URLEncoding.EncodeToString(sig))

	telemetry.GetMetrics().NarrationURLsIssuedTotal.Add(ctx, 1)
	return u, nil
}

// VerifyPlaybackURL checks the signature and expiry of a playback URL and
// returns the object key. Mirrors the edge verification, used in tests
// and by the local playback proxy in development.
func (s *Service) VerifyPlaybackURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}

	key, err := url.PathUnescape(strings.TrimPrefix(u.Path, "/"))
	if err != nil || key == "" {
		return "", ErrInvalidURL
	}

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return "", ErrInvalidURL
	}
	if time.Now().Unix() > expires {
		return "", ErrInvalidURL
	}

	sig, err := base64.URLEncoding.DecodeString(u.Query().Get("signature"))
	if err != nil {
		return "", ErrInvalidURL
	}
	if !hmac.Equal(sig, s.sign(key, expires)) {
		return "", ErrInvalidURL
	}

	return key, nil
}

// FetchMetadata reads object metadata with a HEAD request.
func (s *Service) FetchMetadata(ctx context.Context, key string) (*ObjectInfo, error) {
	if key == "" || strings.Contains(key, "..") {
		return nil, ErrInvalidKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL+"/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request returned %d", resp.StatusCode)
	}

	return &ObjectInfo{
		Size:        resp.ContentLength,
		ETag:        strings.Trim(resp.Header.Get("ETag"), `"`),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// ChecksumObject downloads the narration object and returns its
// CRC64-NVME checksum as hex. Called once when a narration is registered
// on a story; playback never touches the audio bytes.
func (s *Service) ChecksumObject(ctx context.Context, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+url.PathEscape(key), nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("object fetch failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("object fetch returned %d", resp.StatusCode)
	}

	h := crc64nvme.New()
	n, err := io.Copy(h, resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read object: %w", err)
	}

	log.Debug().Str("key", key).Int64("bytes", n).Msg("Narration checksummed")
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum computes the CRC64-NVME checksum of in-memory data as hex.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", crc64nvme.Checksum(data))
}

func (s *Service) sign(key string, expires int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return mac.Sum(nil)
}
