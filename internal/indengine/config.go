package indengine

import (
	"fmt"
	"time"

	"ta-enginev1/config"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/stream"
	"ta-enginev1/internal/vwap"
)

// streamConfig converts a declared stream into the façade's config.
func streamConfig(sc config.Stream) (stream.Config, error) {
	out := stream.Config{
		ID:               sc.ID,
		Symbol:           sc.Symbol,
		Indicator:        sc.Indicator,
		Params:           model.ParamMap(sc.Params),
		BufferSize:       sc.BufferSize,
		OffloadThreshold: sc.OffloadThreshold,
		PollInterval:     sc.PollInterval,
	}
	if sc.VWAP != nil {
		p, err := vwapParams(*sc.VWAP)
		if err != nil {
			return stream.Config{}, fmt.Errorf("stream %s: %w", sc.ID, err)
		}
		out.VWAP = &p
	}
	return out, nil
}

func vwapParams(c config.VWAP) (vwap.Params, error) {
	reset, err := vwap.ParseResetInterval(c.ResetInterval)
	if err != nil {
		return vwap.Params{}, err
	}
	p := vwap.Params{
		Multipliers:   c.Multipliers,
		ResetInterval: reset,
		SessionGap:    c.SessionGap,
	}
	if p.Location, err = loadLocation(c.Timezone); err != nil {
		return vwap.Params{}, err
	}
	return p, nil
}

// loadLocation resolves an IANA zone name; "" is UTC.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("vwap timezone: %w", err)
	}
	return loc, nil
}
