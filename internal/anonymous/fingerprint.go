// Package anonymous identifies signed-out visitors by a browser fingerprint
// and gates their free conversion on it.
package anonymous

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

var errNoSignals = errors.New("no browser signals")

// Signals are the stable browser properties a fingerprint is derived from.
// Nothing time-dependent belongs here.
type Signals struct {
	UserAgent           string  `json:"user_agent"`
	Language            string  `json:"language"`
	ScreenWidth         int     `json:"screen_width"`
	ScreenHeight        int     `json:"screen_height"`
	ColorDepth          int     `json:"color_depth"`
	TimezoneOffset      int     `json:"timezone_offset"`
	Platform            string  `json:"platform"`
	CookieEnabled       bool    `json:"cookie_enabled"`
	LocalStorage        bool    `json:"local_storage"`
	SessionStorage      bool    `json:"session_storage"`
	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemory        float64 `json:"device_memory"`
}

func (s Signals) canonical() string {
	return strings.Join([]string{
		s.UserAgent,
		s.Language,
		strconv.Itoa(s.ScreenWidth) + "x" + strconv.Itoa(s.ScreenHeight),
		strconv.Itoa(s.ColorDepth),
		strconv.Itoa(s.TimezoneOffset),
		s.Platform,
		strconv.FormatBool(s.CookieEnabled),
		strconv.FormatBool(s.LocalStorage),
		strconv.FormatBool(s.SessionStorage),
		strconv.Itoa(s.HardwareConcurrency),
		strconv.FormatFloat(s.DeviceMemory, 'f', -1, 64),
	}, "|")
}

// Fingerprint hashes the signals into a short stable identifier.
func Fingerprint(s Signals) (string, error) {
	if s.UserAgent == "" && s.Platform == "" {
		return "", errNoSignals
	}
	sum := blake2b.Sum256([]byte(s.canonical()))
	return "fp_" + hex.EncodeToString(sum[:])[:16], nil
}

// Fallback is a random identifier used when no fingerprint can be derived.
func Fallback() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "fallback_" + id[:13]
}

// Identity resolves and remembers the visitor's fingerprint.
type Identity struct {
	store storage.Store
	log   *zap.Logger
}

func NewIdentity(store storage.Store, log *zap.Logger) *Identity {
	return &Identity{store: store, log: log.Named("fingerprint")}
}

// Resolve returns the stored fingerprint, or derives one from signals and
// stores it. It never fails: without usable signals a random id is used.
func (i *Identity) Resolve(ctx context.Context, signals *Signals) string {
	if fp, ok, err := i.store.Get(ctx, storage.KeyBrowserFingerprint); err == nil && ok && fp != "" {
		return fp
	} else if err != nil {
		i.log.Warn("failed to read stored fingerprint", zap.Error(err))
	}

	var fp string
	var err error
	if signals != nil {
		fp, err = Fingerprint(*signals)
	} else {
		err = errNoSignals
	}
	if err != nil {
		fp = Fallback()
		i.log.Info("using fallback fingerprint", zap.Error(err))
	}

	if err := i.store.Set(ctx, storage.KeyBrowserFingerprint, fp); err != nil {
		i.log.Warn("failed to store fingerprint", zap.Error(err))
	}
	return fp
}
