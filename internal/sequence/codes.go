package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	// GiftCardCodeLength is the standard gift card code length.
	GiftCardCodeLength = 12
	// giftCardCodeLengthWide is drawn from after repeated collisions.
	giftCardCodeLengthWide = 16
	codeDrawAttempts       = 5
)

// ExistsFunc reports whether a candidate code is already in circulation.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// RandomCode draws a collision-checked random alphanumeric code of the given
// length. After codeDrawAttempts collisions it widens to sixteen characters
// for the same number of attempts before giving up; a healthy code space
// collides almost never, so persistent collisions mean the space is being
// exhausted and the draw bails out with ErrCodeSpaceExhausted instead of
// spinning.
func RandomCode(ctx context.Context, length int, exists ExistsFunc) (string, error) {
	for _, n := range []int{length, giftCardCodeLengthWide} {
		if n < length {
			continue
		}
		for attempt := 0; attempt < codeDrawAttempts; attempt++ {
			code, err := drawCode(n)
			if err != nil {
				return "", err
			}
			taken, err := exists(ctx, code)
			if err != nil {
				return "", err
			}
			if !taken {
				return code, nil
			}
		}
	}
	return "", ErrCodeSpaceExhausted
}

func drawCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("sequence: draw code: %w", err)
		}
		buf[i] = codeCharset[idx.Int64()]
	}
	return string(buf), nil
}
