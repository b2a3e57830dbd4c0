package access

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/scoreroom/internal/dependencies/clock"
	"github.com/mcoot/scoreroom/internal/model"
)

const (
	// MinPasswordLength is the shortest accepted room password
	MinPasswordLength = 4
	// MaxPasswordLength is the longest accepted room password
	MaxPasswordLength = 20
)

// ErrMissingSecret is returned when the service is built without a token secret
var ErrMissingSecret = errors.New("token secret must be set")

// Config holds configuration for the access service
type Config struct {
	// Secret keys the HMAC over access tokens
	Secret string
	// BcryptCost is the bcrypt work factor for room passwords
	BcryptCost int
}

// DefaultConfig returns default access configuration. The secret has no
// default and must be supplied.
func DefaultConfig() Config {
	return Config{
		BcryptCost: bcrypt.DefaultCost,
	}
}

// Service hashes room passwords and issues access tokens for private rooms.
//
// A token is base64url("roomId|playerId|issuedAtMillis|mac") where mac is the
// base64url HMAC-SHA256 of "roomId|playerId|issuedAtMillis". Tokens are not
// persisted and do not expire on their own; they stop being useful when the
// room expires.
type Service struct {
	secret []byte
	cost   int
	clock  clock.Clock
}

// New creates a new access Service
func New(clock clock.Clock, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultConfig().BcryptCost
	}
	return &Service{
		secret: []byte(cfg.Secret),
		cost:   cfg.BcryptCost,
		clock:  clock,
	}, nil
}

// ValidatePassword checks the length bounds of a new room password
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return model.InvalidInput("password must be %d-%d characters", MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// HashPassword returns the bcrypt hash of password
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash
func (s *Service) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken mints an access token binding the room and player
func (s *Service) IssueToken(room model.RoomCode, player model.PlayerID) string {
	issuedAt := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	payload := string(room) + "|" + string(player) + "|" + issuedAt
	return base64.RawURLEncoding.EncodeToString([]byte(payload + "|" + s.sign(payload)))
}

// ValidateToken checks token against room and returns the player id it was
// issued to. Any malformed, tampered or foreign token yields ErrInvalidToken.
func (s *Service) ValidateToken(token string, room model.RoomCode) (model.PlayerID, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", model.ErrInvalidToken
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 4 {
		return "", model.ErrInvalidToken
	}
	tokenRoom, player, issuedAt, mac := parts[0], parts[1], parts[2], parts[3]

	if model.RoomCode(tokenRoom) != room {
		return "", model.ErrInvalidToken
	}

	expected := s.sign(tokenRoom + "|" + player + "|" + issuedAt)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return "", model.ErrInvalidToken
	}

	return model.PlayerID(player), nil
}

// ValidateTokenFor checks token against both room and player
func (s *Service) ValidateTokenFor(token string, room model.RoomCode, player model.PlayerID) error {
	got, err := s.ValidateToken(token, room)
	if err != nil {
		return err
	}
	if got != player {
		return model.ErrInvalidToken
	}
	return nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
