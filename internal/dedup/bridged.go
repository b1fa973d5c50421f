package dedup

import (
	"context"

	"github.com/rs/zerolog"
)

// PhoneVerifier answers which phones belong to registered platform accounts.
type PhoneVerifier interface {
	VerifyPhones(ctx context.Context, phones []string) (map[string]bool, error)
}

// DetectBridged asks verifier about phones in chunks of batchSize and returns
// the phones confirmed as bridged users. A failed chunk is logged and skipped:
// a missing answer never means "not bridged", so callers must only ever add
// bridged status from the result. The error is ctx.Err() when the context
// ends early; partial results are still returned.
func DetectBridged(ctx context.Context, v PhoneVerifier, phones []string, batchSize int, log zerolog.Logger) (map[string]bool, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	bridged := make(map[string]bool)
	for start := 0; start < len(phones); start += batchSize {
		if err := ctx.Err(); err != nil {
			return bridged, err
		}
		end := min(start+batchSize, len(phones))
		chunk := phones[start:end]
		res, err := v.VerifyPhones(ctx, chunk)
		if err != nil {
			log.Warn().Err(err).Int("chunk_start", start).Int("chunk_size", len(chunk)).Msg("verify phones chunk failed; skipping")
			continue
		}
		for _, p := range chunk {
			if res[p] {
				bridged[p] = true
			}
		}
	}
	return bridged, nil
}
