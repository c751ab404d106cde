package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	defaultOrderNumberPrefix = "ORD"
	defaultTrackingPrefix    = "TRK"
	orderNumberSuffixLen     = 6
	trackingIDLen            = 12
)

func newULID() string {
	return ulid.Make().String()
}

// OrderNumberGenerator returns a generator producing numbers shaped
// <prefix>-<unix millis>-<random suffix>.
func OrderNumberGenerator(prefix string) func(time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return func(now time.Time) string {
		return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + randomToken(orderNumberSuffixLen)
	}
}

// TrackingIDGenerator returns a generator for public tracking ids.
func TrackingIDGenerator(prefix string) func() string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultTrackingPrefix
	}
	return func() string {
		return prefix + randomToken(trackingIDLen)
	}
}

func randomToken(n int) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n > 0 && n < len(token) {
		return token[:n]
	}
	return token
}
