package tracking

import (
	"waveform.click/internal/waveform"
)

// HookProvider is anything that can observe cache extractions
type HookProvider interface {
	GetHook() waveform.ExtractionHook
}

// CacheOptions turns providers into cache options, one hook each. Nil
// providers are skipped.
func CacheOptions(providers ...HookProvider) []waveform.Option {
	opts := make([]waveform.Option, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		opts = append(opts, waveform.WithHook(p.GetHook()))
	}
	return opts
}
