package sequence

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomCodeFormat(t *testing.T) {
	code, err := RandomCode(context.Background(), GiftCardCodeLength, func(context.Context, string) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{12}$`), code)
}

func TestRandomCodeRetriesOnCollision(t *testing.T) {
	collisions := 0
	code, err := RandomCode(context.Background(), GiftCardCodeLength, func(context.Context, string) (bool, error) {
		if collisions < 3 {
			collisions++
			return true, nil
		}
		return false, nil
	})
	require.NoError(t, err)
	require.Len(t, code, GiftCardCodeLength)
	require.Equal(t, 3, collisions)
}

func TestRandomCodeWidensThenGivesUp(t *testing.T) {
	var lengths []int
	_, err := RandomCode(context.Background(), GiftCardCodeLength, func(_ context.Context, code string) (bool, error) {
		lengths = append(lengths, len(code))
		return true, nil
	})
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)
	require.Len(t, lengths, 10)
	require.Equal(t, GiftCardCodeLength, lengths[0])
	require.Equal(t, 16, lengths[len(lengths)-1])
}
