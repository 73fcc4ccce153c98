package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Broadcast wraps data in an envelope and queues it to every client
// subscribed to channel. Slow clients lose messages rather than stall the
// hub; they can resume from the replay buffer using channel_seq. A non-zero
// emitted is the time the update was produced and feeds the latency tracker.
func (h *Hub) Broadcast(channel string, data []byte, emitted time.Time) {
	now := time.Now().UTC()
	if !emitted.IsZero() {
		if ms := float64(now.Sub(emitted).Microseconds()) / 1000; ms >= 0 {
			h.Latency.Record(ms)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channel(channel)
	ch.seq++
	h.seq++
	env := envelope(channel, data, now, h.seq, ch.seq)
	ch.latest = env
	ch.replay.Push(ch.seq, env)

	for c := range h.clients {
		if c.matches(channel) && !c.queue(env) {
			if h.m != nil {
				h.m.WSDrops.Inc()
			}
			h.log.Debug("ws send queue full, dropped", "channel", channel, "channel_seq", ch.seq)
		}
	}
}

// envelope builds {"channel","data","ts","seq","channel_seq"} by hand; data
// is already JSON.
func envelope(channel string, data []byte, ts time.Time, seq, channelSeq uint64) []byte {
	name, _ := json.Marshal(channel)
	buf := make([]byte, 0, len(name)+len(data)+128)
	buf = append(buf, `{"channel":`...)
	buf = append(buf, name...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendUint(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendUint(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

var emittedKey = []byte(`"emitted_at":"`)

// emittedAt finds the emitted_at timestamp in a relayed update without
// decoding the result arrays.
func emittedAt(data []byte) time.Time {
	i := bytes.Index(data, emittedKey)
	if i < 0 {
		return time.Time{}
	}
	rest := data[i+len(emittedKey):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, string(rest[:end]))
	if err != nil {
		return time.Time{}
	}
	return t
}
